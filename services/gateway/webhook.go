package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"smallbiznis-airdrop/pkg/errutil"
	"smallbiznis-airdrop/services/airdrop"
	"smallbiznis-airdrop/services/platform"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	SignatureHeader = "X-Airdrop-Signature"
	maxBody         = 64 << 10
)

// Webhook accepts pushed notifications signed with the platform's webhook secret.
type Webhook struct {
	registry *platform.Registry
	handler  Handler
}

func NewWebhook(registry *platform.Registry, handler Handler) *Webhook {
	return &Webhook{registry: registry, handler: handler}
}

func (w *Webhook) Register(r gin.IRouter) {
	r.POST("/v1/airdrop/push/:platform", w.Push)
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func verify(secret, header string, body []byte) bool {
	got, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	sig, err := hex.DecodeString(got)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(sig, mac.Sum(nil))
}

func (w *Webhook) Push(c *gin.Context) {
	p, err := platform.Parse(c.Param("platform"))
	if err != nil {
		_ = c.Error(errutil.NotFound("unknown platform", err))
		return
	}

	cfg := w.registry.Config(p)
	if !cfg.Enable || !cfg.Push.Enable || cfg.Push.WebhookSecret == "" {
		_ = c.Error(errutil.NotFound("push is not enabled for "+string(p), nil))
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBody))
	if err != nil {
		_ = c.Error(errutil.BadRequest("unreadable body", err))
		return
	}
	if !verify(cfg.Push.WebhookSecret, c.GetHeader(SignatureHeader), body) {
		_ = c.Error(errutil.Unauthorized("invalid signature", nil))
		return
	}

	var n airdrop.Notification
	if err := json.Unmarshal(body, &n); err != nil {
		_ = c.Error(errutil.BadRequest("invalid notification", err))
		return
	}
	n.Platform = p
	switch n.Action {
	case platform.Follow, platform.Like:
	default:
		_ = c.Error(errutil.ValidationFailed("unknown action "+string(n.Action), nil))
		return
	}

	res, err := w.handler.Handle(c.Request.Context(), n)
	var (
		recErr    *airdrop.RecordError
		ledgerErr *airdrop.LedgerWriteError
	)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, res)
	case airdrop.IsExpected(err):
		c.JSON(http.StatusAccepted, gin.H{"decision": airdrop.Skipped, "reason": err.Error()})
	case errors.As(err, &recErr):
		_ = c.Error(errutil.UnprocessableEntity(err.Error(), err))
	case errors.As(err, &ledgerErr):
		zap.L().Error("[webhook] ledger write failed", zap.Error(err))
		_ = c.Error(errutil.ServiceUnavailable("ledger write failed", err))
	default:
		_ = c.Error(err)
	}
}
