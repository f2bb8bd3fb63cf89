package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rfblock/hackagotchi/internal/market"
)

// Market is the marketplace the handlers drive
type Market interface {
	Search(ctx context.Context, cat market.Category) ([]market.Listing, error)
	Place(ctx context.Context, cat market.Category, id uuid.UUID, price uint64, marketName string) error
	TakeOff(ctx context.Context, cat market.Category, id uuid.UUID) error
}

type MarketHandler struct {
	market Market
}

func NewMarketHandler(m Market) *MarketHandler {
	return &MarketHandler{market: m}
}

// ListingResponse is one search hit
type ListingResponse struct {
	ID         string `json:"id"`
	Steader    string `json:"steader"`
	Name       string `json:"name,omitempty"`
	Price      uint64 `json:"price"`
	MarketName string `json:"market_name"`
}

type SearchResponse struct {
	Category string            `json:"category"`
	Listings []ListingResponse `json:"listings"`
}

type PlaceRequest struct {
	Price      uint64 `json:"price"`
	MarketName string `json:"market_name"`
}

type PlaceResponse struct {
	Category   string `json:"category"`
	ID         string `json:"id"`
	Price      uint64 `json:"price"`
	MarketName string `json:"market_name"`
}

func parseCategory(c *gin.Context) (market.Category, bool) {
	cat, err := market.ParseCategory(c.Param("category"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, CodeInvalidCategory, err)
		return "", false
	}
	return cat, true
}

func parseItem(c *gin.Context) (market.Category, uuid.UUID, bool) {
	cat, ok := parseCategory(c)
	if !ok {
		return "", uuid.Nil, false
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, CodeInvalidID, err)
		return "", uuid.Nil, false
	}
	return cat, id, true
}

// Search handles GET /v1/market/:category
func (h *MarketHandler) Search(c *gin.Context) {
	cat, ok := parseCategory(c)
	if !ok {
		return
	}

	listings, err := h.market.Search(c.Request.Context(), cat)
	if err != nil {
		respondMarketError(c, err)
		return
	}

	resp := SearchResponse{
		Category: cat.String(),
		Listings: make([]ListingResponse, 0, len(listings)),
	}
	for _, l := range listings {
		resp.Listings = append(resp.Listings, ListingResponse{
			ID:         l.Possession.ID.String(),
			Steader:    l.Possession.Steader,
			Name:       l.Possession.Name,
			Price:      l.Sale.Price,
			MarketName: l.Sale.MarketName,
		})
	}
	RespondOK(c, resp)
}

// Place handles PUT /v1/market/:category/:id
func (h *MarketHandler) Place(c *gin.Context) {
	cat, id, ok := parseItem(c)
	if !ok {
		return
	}

	var req PlaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, CodeInvalidRequest, err)
		return
	}
	sale := market.Sale{Price: req.Price, MarketName: req.MarketName}
	if err := sale.Validate(); err != nil {
		RespondError(c, http.StatusBadRequest, CodeInvalidRequest, err)
		return
	}

	if err := h.market.Place(c.Request.Context(), cat, id, sale.Price, sale.MarketName); err != nil {
		respondMarketError(c, err)
		return
	}

	RespondOK(c, PlaceResponse{
		Category:   cat.String(),
		ID:         id.String(),
		Price:      sale.Price,
		MarketName: sale.MarketName,
	})
}

// TakeOff handles DELETE /v1/market/:category/:id
func (h *MarketHandler) TakeOff(c *gin.Context) {
	cat, id, ok := parseItem(c)
	if !ok {
		return
	}

	if err := h.market.TakeOff(c.Request.Context(), cat, id); err != nil {
		respondMarketError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
