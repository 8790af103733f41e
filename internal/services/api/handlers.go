package api

import (
	"net/http"
	"strconv"
	"time"

	"replyloop/internal/core/match"
	"replyloop/internal/modkit/httpkit"
	perr "replyloop/internal/platform/errors"
	rulesdom "replyloop/internal/services/rules/domain"
	whdom "replyloop/internal/services/webhooks/domain"
)

func (m *Module) handleEvent() httpkit.Handler {
	return httpkit.JSON(func(r *http.Request, in eventRequest) (any, error) {
		res, err := m.intake.Handle(r.Context(), rulesdom.InboundEvent{
			CreatorID:  in.CreatorID,
			Surface:    match.Surface(in.Surface),
			SenderID:   in.SenderID,
			SenderName: in.SenderName,
			Text:       in.Text,
			PostID:     in.PostID,
			CommentID:  in.CommentID,
		})
		if err != nil {
			return nil, err
		}
		return httpkit.Accepted(eventResponse{
			Source:    res.Source,
			Outcome:   string(res.Outcome),
			RuleID:    res.RuleID,
			MessageID: res.MessageID,
		}), nil
	})
}

func (m *Module) handleSweepFollowGate() httpkit.Handler {
	return httpkit.Call(func(r *http.Request) (any, error) {
		return m.sweeps.FollowGate.Sweep(r.Context(), time.Now().UTC())
	})
}

func (m *Module) handleSweepQueue() httpkit.Handler {
	return httpkit.Call(func(r *http.Request) (any, error) {
		return m.sweeps.Queue.Drain(r.Context(), time.Now().UTC())
	})
}

func (m *Module) handleSweepWebhooks() httpkit.Handler {
	return httpkit.Call(func(r *http.Request) (any, error) {
		return m.sweeps.Webhooks.RunDue(r.Context(), time.Now().UTC())
	})
}

func (m *Module) handleSweepTokens() httpkit.Handler {
	return httpkit.Call(func(r *http.Request) (any, error) {
		return m.sweeps.Tokens.RefreshExpiring(r.Context(), time.Now().UTC())
	})
}

func (m *Module) handleDispatch() httpkit.Handler {
	return httpkit.JSON(func(r *http.Request, in dispatchRequest) (any, error) {
		return m.dispatcher.Dispatch(r.Context(), in.CreatorID, in.EventType, in.Payload)
	})
}

func (m *Module) handleCreateEndpoint() httpkit.Handler {
	return httpkit.JSON(func(r *http.Request, in endpointRequest) (any, error) {
		e, err := m.registry.CreateEndpoint(r.Context(), whdom.CreateEndpoint{
			CreatorID:  in.CreatorID,
			URL:        in.URL,
			Secret:     in.Secret,
			EventTypes: in.EventTypes,
		})
		if err != nil {
			return nil, err
		}
		return httpkit.Created(toEndpointResponse(e)), nil
	})
}

func (m *Module) handleListEndpoints() httpkit.Handler {
	return httpkit.Call(func(r *http.Request) (any, error) {
		creatorID := r.URL.Query().Get("creator_id")
		if creatorID == "" {
			return nil, perr.InvalidArgf("creator_id is required")
		}
		list, err := m.registry.ListEndpoints(r.Context(), creatorID)
		if err != nil {
			return nil, err
		}
		out := make([]endpointResponse, 0, len(list))
		for _, e := range list {
			out = append(out, toEndpointResponse(e))
		}
		return out, nil
	})
}

func (m *Module) handleDeleteEndpoint() httpkit.Handler {
	return httpkit.Call(func(r *http.Request) (any, error) {
		creatorID := r.URL.Query().Get("creator_id")
		if creatorID == "" {
			return nil, perr.InvalidArgf("creator_id is required")
		}
		if err := m.registry.DeleteEndpoint(r.Context(), creatorID, httpkit.Param(r, "endpointID")); err != nil {
			return nil, err
		}
		return httpkit.NoContent(), nil
	})
}

func (m *Module) handleTestEndpoint() httpkit.Handler {
	return httpkit.Call(func(r *http.Request) (any, error) {
		d, err := m.dispatcher.Test(r.Context(), httpkit.Param(r, "endpointID"))
		if err != nil {
			return nil, err
		}
		return toDeliveryResponse(d), nil
	})
}

func (m *Module) handleRetryDelivery() httpkit.Handler {
	return httpkit.Call(func(r *http.Request) (any, error) {
		d, err := m.dispatcher.Retry(r.Context(), httpkit.Param(r, "endpointID"), httpkit.Param(r, "deliveryID"))
		if err != nil {
			return nil, err
		}
		return toDeliveryResponse(d), nil
	})
}

func (m *Module) handleListDeliveries() httpkit.Handler {
	return httpkit.Call(func(r *http.Request) (any, error) {
		creatorID := r.URL.Query().Get("creator_id")
		if creatorID == "" {
			return nil, perr.InvalidArgf("creator_id is required")
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		list, err := m.registry.Deliveries(r.Context(), creatorID, limit)
		if err != nil {
			return nil, err
		}
		out := make([]deliveryResponse, 0, len(list))
		for _, d := range list {
			out = append(out, toDeliveryResponse(d))
		}
		return out, nil
	})
}
