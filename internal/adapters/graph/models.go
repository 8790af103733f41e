package graph

// sendMessageReq is the messages endpoint payload
type sendMessageReq struct {
	Recipient recipientRef `json:"recipient"`
	Message   messageBody  `json:"message"`
}

type recipientRef struct {
	ID string `json:"id"`
}

type messageBody struct {
	Text string `json:"text"`
}

// SendResult is what a successful send returns
type SendResult struct {
	MessageID   string `json:"message_id"`
	RecipientID string `json:"recipient_id"`
}

// replyReq is the comment reply payload
type replyReq struct {
	Message string `json:"message"`
}

type replyResp struct {
	ID string `json:"id"`
}

// followCheckResp is the follower-edge lookup response
type followCheckResp struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// refreshResp is the long-lived token exchange response
type refreshResp struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// apiError is the platform error envelope
type apiError struct {
	Error struct {
		Message      string `json:"message"`
		Type         string `json:"type"`
		Code         int    `json:"code"`
		ErrorSubcode int    `json:"error_subcode"`
	} `json:"error"`
}
