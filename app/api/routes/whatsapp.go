package routes

import (
	"errors"
	"net/http"
	"time"

	"github.com/chatbridge/pkg/constant"
	"github.com/chatbridge/pkg/domains/conversation"
	"github.com/chatbridge/pkg/domains/reply"
	"github.com/chatbridge/pkg/domains/session"
	"github.com/chatbridge/pkg/dtos"
	"github.com/chatbridge/pkg/errs"
	"github.com/chatbridge/pkg/realtime"
	"github.com/chatbridge/pkg/state"
	"github.com/chatbridge/pkg/utils"
	"github.com/gin-gonic/gin"
)

type WhatsAppDeps struct {
	Sessions      session.Service
	Replies       reply.Service
	Conversations conversation.Repository
	Hub           *realtime.Hub
	Validator     *utils.CustomValidator
}

func WhatsAppRoutes(r *gin.RouterGroup, d WhatsAppDeps, auth gin.HandlerFunc, limit gin.HandlerFunc) {
	authGroup := r.Group("", auth)
	{
		authGroup.POST("/connect", connect(d))
		authGroup.GET("/pairing-code", pairingCode(d))
		authGroup.GET("/status", getStatus(d))
		authGroup.POST("/unlink", unlink(d))
		authGroup.POST("/send-message", limit, sendMessage(d))
		authGroup.GET("/conversations", listConversations(d))
		authGroup.GET("/events", events(d))
	}
}

func connect(d WhatsAppDeps) func(c *gin.Context) {
	return func(c *gin.Context) {
		tenantID := state.CurrentTenant(c)
		s, err := d.Sessions.AcquireSession(c, tenantID)
		if err != nil {
			c.JSON(statusOf(err), gin.H{"error": err.Error()})
			return
		}

		resp := dtos.ConnectDTO{State: string(s.State()), AccountID: s.AccountID()}
		message := constant.WHATSAPP_CONNECTING
		switch s.State() {
		case session.StateConnected:
			message = constant.WHATSAPP_CONNECTED
		case session.StatePairing:
			if pending, ok, err := d.Sessions.PairingCode(c, tenantID); err == nil && ok {
				resp.PairingCode = pending.Code
				message = constant.WHATSAPP_PAIRING
			}
		}

		c.JSON(200, gin.H{
			"message": message,
			"data":    resp,
		})
	}
}

func pairingCode(d WhatsAppDeps) func(c *gin.Context) {
	return func(c *gin.Context) {
		pending, ok, err := d.Sessions.PairingCode(c, state.CurrentTenant(c))
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		if !ok {
			c.JSON(404, gin.H{"error": constant.PAIRING_CODE_EXPIRED})
			return
		}

		c.JSON(200, gin.H{
			"message": constant.WHATSAPP_PAIRING,
			"data": dtos.PairingCodeDTO{
				Code:      pending.Code,
				IssuedAt:  pending.IssuedAt,
				ExpiresAt: pending.ExpiresAt,
			},
		})
	}
}

func getStatus(d WhatsAppDeps) func(c *gin.Context) {
	return func(c *gin.Context) {
		tenantID := state.CurrentTenant(c)
		c.JSON(200, gin.H{
			"message": constant.STATUS_RETRIEVED,
			"data": dtos.WhatsAppStatusDTO{
				State:     string(d.Sessions.State(tenantID)),
				AccountID: d.Sessions.AccountID(tenantID),
			},
		})
	}
}

func unlink(d WhatsAppDeps) func(c *gin.Context) {
	return func(c *gin.Context) {
		if err := d.Sessions.Teardown(c, state.CurrentTenant(c), session.ReasonUnlink); err != nil {
			c.JSON(statusOf(err), gin.H{"error": err.Error()})
			return
		}

		c.JSON(200, gin.H{
			"message": constant.WHATSAPP_UNLINKED,
		})
	}
}

func sendMessage(d WhatsAppDeps) func(c *gin.Context) {
	return func(c *gin.Context) {
		var req dtos.SendMessageDTO
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": constant.INVALID_REQUEST})
			return
		}
		tenantID := state.CurrentTenant(c)

		conversationID := req.ConversationID
		if conversationID == "" {
			if err := d.Validator.Validator.Var(req.PhoneNumber, "isphone"); err != nil {
				c.JSON(400, gin.H{"error": constant.INVALID_PHONE_NUMBER})
				return
			}
			accountID := d.Sessions.AccountID(tenantID)
			if accountID == "" {
				c.JSON(409, gin.H{"error": constant.WHATSAPP_NOT_CONNECTED})
				return
			}
			to := utils.NormalizePhone(req.PhoneNumber) + "@" + constant.USER_SERVER
			conv, err := d.Replies.OpenConversation(c, tenantID, accountID, to)
			if err != nil {
				c.JSON(statusOf(err), gin.H{"error": err.Error()})
				return
			}
			conversationID = conv.ID
		}

		msg, conv, err := d.Replies.SendManual(c, tenantID, conversationID, req.Message)
		if err != nil {
			c.JSON(statusOf(err), gin.H{"error": err.Error()})
			return
		}

		resp := dtos.MessageResponseDTO{
			MessageID:      msg.ID,
			ConversationID: msg.ConversationID,
			Timestamp:      msg.CreatedAt.Format(time.RFC3339),
			Status:         "sent",
			To:             conv.ExternalConversationID,
		}
		if msg.ExternalMessageID != nil {
			resp.ExternalMessageID = *msg.ExternalMessageID
		}
		if msg.ExternalTimestamp != nil {
			resp.Timestamp = msg.ExternalTimestamp.Format(time.RFC3339)
		}

		c.JSON(200, gin.H{
			"message": constant.MESSAGE_SENT,
			"data":    resp,
		})
	}
}

func listConversations(d WhatsAppDeps) func(c *gin.Context) {
	return func(c *gin.Context) {
		convs, err := d.Conversations.ListConversations(c, state.CurrentTenant(c))
		if err != nil {
			c.JSON(statusOf(err), gin.H{"error": err.Error()})
			return
		}

		out := make([]dtos.ConversationDTO, 0, len(convs))
		for _, conv := range convs {
			out = append(out, dtos.ConversationDTO{
				ID:                     conv.ID,
				ExternalConversationID: conv.ExternalConversationID,
				DisplayName:            conv.DisplayName,
				IsGroup:                conv.IsGroup,
				LastMessageAt:          conv.LastMessageAt,
			})
		}

		c.JSON(200, gin.H{
			"conversations": out,
		})
	}
}

func events(d WhatsAppDeps) func(c *gin.Context) {
	return func(c *gin.Context) {
		// the hub writes its own handshake error response
		_ = d.Hub.Serve(c.Writer, c.Request, state.CurrentTenant(c))
	}
}

func statusOf(err error) int {
	var limited *errs.RateLimitError
	switch {
	case errors.As(err, &limited):
		return http.StatusTooManyRequests
	case errors.Is(err, errs.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrNotReady), errors.Is(err, errs.ErrPermanentAuth):
		return http.StatusConflict
	case errors.Is(err, errs.ErrTransient):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
