package api

import (
	"time"

	"github.com/uvote/uvote-backend/internal/engine"
)

type CreateMarketRequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	StakeAsset  string     `json:"stakeAsset"`
	Options     []string   `json:"options"`
	ClosesAt    *time.Time `json:"closesAt,omitempty"`
	CooldownSec int64      `json:"cooldownSec,omitempty"`
}

type PlaceBetRequest struct {
	OptionIdx int    `json:"optionIdx"`
	Amount    string `json:"amount"`
}

type ResolveRequest struct {
	OptionIdx int `json:"optionIdx"`
}

type ReviewRequest struct {
	Verdict string `json:"verdict"` // confirmed | disputed | cancelled
}

type OptionDTO struct {
	Index        int    `json:"index"`
	Description  string `json:"description"`
	TotalAmount  string `json:"totalAmount"`
	TotalBettors int    `json:"totalBettors"`
}

type MarketDTO struct {
	ID             int64       `json:"id"`
	Creator        string      `json:"creator"`
	StakeAsset     string      `json:"stakeAsset"`
	Title          string      `json:"title"`
	Description    string      `json:"description"`
	Options        []OptionDTO `json:"options"`
	Status         string      `json:"status"`
	WinningOption  *int        `json:"winningOption,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
	ClosesAt       *time.Time  `json:"closesAt,omitempty"`
	CooldownEndsAt *time.Time  `json:"cooldownEndsAt,omitempty"`
	ResolvedAt     *time.Time  `json:"resolvedAt,omitempty"`
	ReportCount    int         `json:"reportCount"`
	TotalPool      string      `json:"totalPool"`
}

type MarketListResponse struct {
	Markets []MarketDTO `json:"markets"`
}

type BetDTO struct {
	OptionIdx int       `json:"optionIdx"`
	Amount    string    `json:"amount"`
	Claimed   bool      `json:"claimed"`
	PlacedAt  time.Time `json:"placedAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type BetListResponse struct {
	MarketID int64    `json:"marketId"`
	Bettor   string   `json:"bettor"`
	Bets     []BetDTO `json:"bets"`
}

type ClaimableResponse struct {
	MarketID int64  `json:"marketId"`
	Bettor   string `json:"bettor"`
	Amount   string `json:"amount"`
}

type ClaimResponse struct {
	MarketID int64  `json:"marketId"`
	Bettor   string `json:"bettor"`
	Amount   string `json:"amount"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func marketDTO(m *engine.Market) MarketDTO {
	dto := MarketDTO{
		ID:             m.ID,
		Creator:        m.Creator,
		StakeAsset:     m.StakeAsset,
		Title:          m.Title,
		Description:    m.Description,
		Status:         string(m.Status),
		CreatedAt:      m.CreatedAt,
		ClosesAt:       m.ClosesAt,
		CooldownEndsAt: m.CooldownEndsAt,
		ResolvedAt:     m.ResolvedAt,
		ReportCount:    m.ReportCount,
		TotalPool:      m.TotalPool.String(),
	}
	if m.WinningOption != engine.NoWinner {
		w := m.WinningOption
		dto.WinningOption = &w
	}
	dto.Options = make([]OptionDTO, len(m.Options))
	for i, opt := range m.Options {
		dto.Options[i] = OptionDTO{
			Index:        i,
			Description:  opt.Description,
			TotalAmount:  opt.TotalAmount.String(),
			TotalBettors: opt.TotalBettors,
		}
	}
	return dto
}

func betDTOs(bets []*engine.Bet) []BetDTO {
	out := make([]BetDTO, len(bets))
	for i, b := range bets {
		out[i] = BetDTO{
			OptionIdx: b.OptionIdx,
			Amount:    b.Amount.String(),
			Claimed:   b.Claimed,
			PlacedAt:  b.PlacedAt,
			UpdatedAt: b.UpdatedAt,
		}
	}
	return out
}
