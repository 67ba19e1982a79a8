package airdrop

import (
	"net/http"

	"smallbiznis-airdrop/pkg/errutil"
	"smallbiznis-airdrop/services/platform"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	reader *Reader
}

func NewHandler(reader *Reader) *Handler {
	return &Handler{reader: reader}
}

func (h *Handler) Register(r gin.IRouter) {
	g := r.Group("/v1/airdrop")
	g.GET("/balances", h.Balances)
	g.GET("/rewards", h.Rewards)
	g.GET("/runs", h.Runs)
}

func bindPlatform(p *platform.Platform) error {
	if *p == "" {
		return nil
	}
	parsed, err := platform.Parse(string(*p))
	if err != nil {
		return errutil.BadRequest(err.Error(), err)
	}
	*p = parsed
	return nil
}

func (h *Handler) bindFilter(c *gin.Context, f *BalanceFilter) error {
	if err := c.ShouldBindQuery(f); err != nil {
		return errutil.BadRequest("invalid query", err)
	}
	if err := bindPlatform(&f.Platform); err != nil {
		return err
	}
	if f.Action == "" {
		return nil
	}
	action, err := platform.ParseAction(string(f.Action))
	if err != nil {
		return errutil.BadRequest(err.Error(), err)
	}
	f.Action = action
	return nil
}

func (h *Handler) Balances(c *gin.Context) {
	var f BalanceFilter
	if err := h.bindFilter(c, &f); err != nil {
		_ = c.Error(err)
		return
	}

	balances, err := h.reader.Balances(c.Request.Context(), f)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": balances})
}

func (h *Handler) Rewards(c *gin.Context) {
	var f HistoryFilter
	if err := h.bindFilter(c, &f.BalanceFilter); err != nil {
		_ = c.Error(err)
		return
	}
	if err := c.ShouldBindQuery(&f.Pagination); err != nil {
		_ = c.Error(errutil.BadRequest("invalid pagination", err))
		return
	}

	items, page, err := h.reader.History(c.Request.Context(), f)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items, "page_info": page})
}

func (h *Handler) Runs(c *gin.Context) {
	var f RunFilter
	if err := c.ShouldBindQuery(&f); err != nil {
		_ = c.Error(errutil.BadRequest("invalid query", err))
		return
	}
	if err := bindPlatform(&f.Platform); err != nil {
		_ = c.Error(err)
		return
	}

	runs, page, err := h.reader.Runs(c.Request.Context(), f)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": runs, "page_info": page})
}
