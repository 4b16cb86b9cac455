package stock

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/techinfoplus/tip-erp/internal/platform/httpx"
)

// Direction enumerates stock movement kinds.
type Direction string

const (
	// DirectionIn represents an inbound movement.
	DirectionIn Direction = "ENTREE"
	// DirectionOut represents an outbound movement.
	DirectionOut Direction = "SORTIE"
	// DirectionAdjust records an inventory count correction.
	DirectionAdjust Direction = "AJUSTEMENT"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	switch d {
	case DirectionIn, DirectionOut, DirectionAdjust:
		return true
	}
	return false
}

// Item is the locked stock view of an article.
type Item struct {
	ArticleID   int64
	Code        string
	Designation string
	// Tracked is false for services, which never carry stock.
	Tracked bool
	Active  bool
	Stock   int64
}

// Movement is an immutable ledger row.
type Movement struct {
	ID          int64     `json:"id"`
	ArticleID   int64     `json:"article_id"`
	ArticleCode string    `json:"article_code,omitempty"`
	Designation string    `json:"designation,omitempty"`
	Direction   Direction `json:"direction"`
	Quantity    int64     `json:"quantity"`
	StockBefore int64     `json:"stock_before"`
	StockAfter  int64     `json:"stock_after"`
	Reference   string    `json:"reference"`
	Reason      string    `json:"reason"`
	CreatedBy   int64     `json:"created_by,omitempty"`
	MovedAt     time.Time `json:"moved_at"`
}

// Line requests a quantity of one article.
type Line struct {
	ArticleID int64
	Quantity  int64
}

// Posting groups the lines moved by one business event.
type Posting struct {
	Direction Direction
	Reference string
	Reason    string
	ActorID   int64
	Lines     []Line
}

// ManualMovementInput is a stock entry or exit keyed in by a user.
type ManualMovementInput struct {
	ArticleID int64     `json:"article_id" validate:"required,gt=0"`
	Direction Direction `json:"direction" validate:"required,oneof=ENTREE SORTIE"`
	Quantity  int64     `json:"quantity" validate:"required,gt=0"`
	Reference string    `json:"reference" validate:"max=120"`
	Reason    string    `json:"reason" validate:"max=500"`
}

// CountLine is the physically counted quantity of one article.
type CountLine struct {
	ArticleID int64 `json:"article_id" validate:"required,gt=0"`
	Counted   int64 `json:"counted" validate:"gte=0"`
}

// CountInput validates a full inventory count.
type CountInput struct {
	Date  string      `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Lines []CountLine `json:"lines" validate:"required,min=1,dive"`
}

// CountResult summarises an inventory count validation.
type CountResult struct {
	Adjusted  []Movement `json:"adjusted"`
	Unchanged int        `json:"unchanged"`
	Reference string     `json:"reference"`
}

// MovementFilter narrows movement listings.
type MovementFilter struct {
	ArticleID int64
	Direction Direction
	From      time.Time
	To        time.Time
	Limit     int
	Offset    int
}

// Stats summarises tracked articles.
type Stats struct {
	Products  int64           `json:"products"`
	Low       int64           `json:"low"`
	Critical  int64           `json:"critical"`
	Valuation decimal.Decimal `json:"valuation"`
}

// LowStockItem is an article at or below its alert threshold.
type LowStockItem struct {
	ArticleID      int64  `json:"article_id"`
	Code           string `json:"code"`
	Designation    string `json:"designation"`
	Stock          int64  `json:"stock"`
	AlertThreshold int64  `json:"alert_threshold"`
}

var (
	// ErrInsufficientStock is returned when an outbound move exceeds stock.
	ErrInsufficientStock = fmt.Errorf("%w: insufficient stock", httpx.ErrValidation)
	// ErrInvalidQuantity indicates a zero or negative quantity.
	ErrInvalidQuantity = fmt.Errorf("%w: quantity must be positive", httpx.ErrValidation)
	// ErrUntracked is returned when a manual movement targets a service.
	ErrUntracked = fmt.Errorf("%w: services do not carry stock", httpx.ErrValidation)
	// ErrArticleNotFound indicates a missing article row.
	ErrArticleNotFound = fmt.Errorf("%w: article not found", httpx.ErrNotFound)
	// ErrMovementNotFound indicates a missing movement row.
	ErrMovementNotFound = fmt.Errorf("%w: stock movement not found", httpx.ErrNotFound)
)
