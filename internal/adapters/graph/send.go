package graph

import (
	"context"
	"net/http"
	"net/url"
	"time"

	perr "replyloop/internal/platform/errors"
)

// SendDM delivers a direct message to a recipient on behalf of the creator
// whose accessToken is supplied
func (c *Client) SendDM(ctx context.Context, recipientID, text, accessToken string) (SendResult, error) {
	var out SendResult
	if recipientID == "" || text == "" {
		return out, perr.InvalidArgf("recipient and text are required")
	}
	req := sendMessageReq{
		Recipient: recipientRef{ID: recipientID},
		Message:   messageBody{Text: text},
	}
	if err := c.doJSON(ctx, http.MethodPost, "/me/messages", nil, req, accessToken, &out); err != nil {
		return SendResult{}, err
	}
	if out.RecipientID == "" {
		out.RecipientID = recipientID
	}
	return out, nil
}

// ReplyToComment posts a public reply under a comment
func (c *Client) ReplyToComment(ctx context.Context, commentID, text, accessToken string) (string, error) {
	if commentID == "" || text == "" {
		return "", perr.InvalidArgf("comment id and text are required")
	}
	var out replyResp
	err := c.doJSON(ctx, http.MethodPost, "/"+commentID+"/replies", nil, replyReq{Message: text}, accessToken, &out)
	if err != nil {
		return "", err
	}
	return out.ID, nil
}

// IsFollowing reports whether userID follows the creator account.
// Callers decide their own posture on error: the rules path fails open
// (sends anyway), the follow-gate sweep leaves the row pending
func (c *Client) IsFollowing(ctx context.Context, userID, accessToken string) (bool, error) {
	if userID == "" {
		return false, perr.InvalidArgf("user id is required")
	}
	q := url.Values{}
	q.Set("user_id", userID)
	var out followCheckResp
	if err := c.doJSON(ctx, http.MethodGet, "/me/followers", q, nil, accessToken, &out); err != nil {
		return false, err
	}
	return len(out.Data) > 0, nil
}

// RefreshToken exchanges a long-lived token for a fresh one and returns
// the new token with its validity window
func (c *Client) RefreshToken(ctx context.Context, accessToken string) (string, time.Duration, error) {
	if accessToken == "" {
		return "", 0, perr.InvalidArgf("access token is required")
	}
	q := url.Values{}
	q.Set("grant_type", "ig_refresh_token")
	q.Set("access_token", accessToken)
	var out refreshResp
	if err := c.doJSON(ctx, http.MethodGet, "/refresh_access_token", q, nil, "", &out); err != nil {
		return "", 0, err
	}
	if out.AccessToken == "" {
		return "", 0, perr.Internalf("refresh returned empty token")
	}
	return out.AccessToken, time.Duration(out.ExpiresIn) * time.Second, nil
}
