package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"dutch_auction/internal/domain"
	"dutch_auction/internal/event"
	"dutch_auction/internal/infra"
	"dutch_auction/internal/ledger"

	"github.com/go-chi/chi/v5"
)

const (
	accountHeader     = "X-Account"
	defaultEventLimit = 100
	maxEventLimit     = 1000

	// largest duration representable as a time.Duration
	maxDurationSec = math.MaxInt64 / int64(time.Second)
)

// Treasury is the account store behind deposits and balance queries.
type Treasury interface {
	Deposit(account string, amount uint64) error
	Balance(account string) domain.Balance
}

// Journal reads sequenced events.
type Journal interface {
	LoadEvents(ctx context.Context, afterSeq uint64, limit int) ([]event.Event, error)
}

type Handler struct {
	Ledger   *ledger.Ledger
	Treasury Treasury
	Journal  Journal
	Metrics  *infra.Metrics
	Symbol   string
	Decimals int32
}

type createAuctionRequest struct {
	Item          string `json:"item"`
	StartingPrice string `json:"startingPrice"`
	DiscountRate  string `json:"discountRate"`
	DurationSec   int64  `json:"durationSec"`
}

type createAuctionResponse struct {
	AuctionID uint64 `json:"auctionId"`
}

type buyRequest struct {
	Payment string `json:"payment"`
}

type depositRequest struct {
	Amount string `json:"amount"`
}

// amountView carries the raw smallest-unit value and its whole-unit rendering.
type amountView struct {
	Raw     uint64 `json:"raw,string"`
	Display string `json:"display"`
	Symbol  string `json:"symbol"`
}

type auctionResponse struct {
	ID            uint64      `json:"id"`
	Seller        string      `json:"seller"`
	Item          string      `json:"item"`
	StartingPrice amountView  `json:"startingPrice"`
	DiscountRate  amountView  `json:"discountRate"`
	StartAt       string      `json:"startAt"`
	EndsAt        string      `json:"endsAt"`
	Stopped       bool        `json:"stopped"`
	Expired       bool        `json:"expired"`
	CurrentPrice  *amountView `json:"currentPrice,omitempty"`
	FinalPrice    *amountView `json:"finalPrice,omitempty"`
	Buyer         string      `json:"buyer,omitempty"`
}

type priceResponse struct {
	AuctionID uint64     `json:"auctionId"`
	Price     amountView `json:"price"`
}

type receiptResponse struct {
	AuctionID    uint64     `json:"auctionId"`
	Buyer        string     `json:"buyer"`
	Seller       string     `json:"seller"`
	FinalPrice   amountView `json:"finalPrice"`
	Fee          amountView `json:"fee"`
	SellerAmount amountView `json:"sellerAmount"`
	Refund       amountView `json:"refund"`
}

type balanceResponse struct {
	Account string     `json:"account"`
	Balance amountView `json:"balance"`
}

type eventResponse struct {
	Seq       uint64 `json:"seq"`
	Type      string `json:"type"`
	AuctionID uint64 `json:"auctionId"`
	Ts        string `json:"ts"`
	Data      any    `json:"data"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	Retriable bool   `json:"retriable,omitempty"`
}

func (h *Handler) GetOwner(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"owner": h.Ledger.Owner()})
}

func (h *Handler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Metrics.Snapshot())
}

func (h *Handler) CreateAuction(w http.ResponseWriter, r *http.Request) {
	var req createAuctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	seller := r.Header.Get(accountHeader)
	if seller == "" {
		writeError(w, http.StatusUnauthorized, "missing account")
		return
	}
	startingPrice, err := domain.ParseAmount(req.StartingPrice, h.Decimals)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid startingPrice")
		return
	}
	discountRate, err := domain.ParseAmount(req.DiscountRate, h.Decimals)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid discountRate")
		return
	}
	if req.DurationSec <= 0 {
		writeError(w, http.StatusBadRequest, "durationSec must be positive")
		return
	}
	if req.DurationSec > maxDurationSec {
		writeError(w, http.StatusBadRequest, "durationSec too large")
		return
	}

	id, err := h.Ledger.CreateAuction(seller, startingPrice, discountRate, req.Item,
		time.Duration(req.DurationSec)*time.Second)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createAuctionResponse{AuctionID: id})
}

func (h *Handler) ListAuctions(w http.ResponseWriter, r *http.Request) {
	auctions := h.Ledger.Auctions()
	now := h.Ledger.Now()
	resp := make([]auctionResponse, 0, len(auctions))
	for i := range auctions {
		resp = append(resp, h.auctionView(&auctions[i], now))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetAuction(w http.ResponseWriter, r *http.Request) {
	id, ok := auctionID(w, r)
	if !ok {
		return
	}
	q, err := h.Ledger.Quote(id)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	resp := h.auctionView(&q.Auction, q.Now)
	if q.Open {
		v := h.amount(q.Price)
		resp.CurrentPrice = &v
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetPrice(w http.ResponseWriter, r *http.Request) {
	id, ok := auctionID(w, r)
	if !ok {
		return
	}
	price, err := h.Ledger.GetPrice(id)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, priceResponse{AuctionID: id, Price: h.amount(price)})
}

func (h *Handler) Buy(w http.ResponseWriter, r *http.Request) {
	id, ok := auctionID(w, r)
	if !ok {
		return
	}
	var req buyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	buyer := r.Header.Get(accountHeader)
	if buyer == "" {
		writeError(w, http.StatusUnauthorized, "missing account")
		return
	}
	payment, err := domain.ParseAmount(req.Payment, h.Decimals)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid payment")
		return
	}

	receipt, err := h.Ledger.Buy(r.Context(), id, buyer, payment)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receiptResponse{
		AuctionID:    receipt.AuctionID,
		Buyer:        receipt.Buyer,
		Seller:       receipt.Seller,
		FinalPrice:   h.amount(receipt.FinalPrice),
		Fee:          h.amount(receipt.Fee),
		SellerAmount: h.amount(receipt.SellerAmount),
		Refund:       h.amount(receipt.Refund),
	})
}

func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	amount, err := domain.ParseAmount(req.Amount, h.Decimals)
	if err != nil || amount == 0 {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}
	if err := h.Treasury.Deposit(account, amount); err != nil {
		h.writeLedgerError(w, err)
		return
	}
	slog.Info("Deposit", slog.String("account", account), slog.Uint64("amount", amount))
	h.GetBalance(w, r)
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	b := h.Treasury.Balance(account)
	writeJSON(w, http.StatusOK, balanceResponse{Account: account, Balance: h.amount(b.Amount)})
}

func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	if h.Journal == nil {
		writeError(w, http.StatusServiceUnavailable, "journal not configured")
		return
	}
	q := r.URL.Query()
	after, err := parseUintParam(q.Get("after"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid after")
		return
	}
	limit, err := parseUintParam(q.Get("limit"), defaultEventLimit)
	if err != nil || limit == 0 {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}

	events, err := h.Journal.LoadEvents(r.Context(), after, int(limit))
	if err != nil {
		slog.Error("Load events failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "load events failed")
		return
	}
	resp := make([]eventResponse, 0, len(events))
	for _, ev := range events {
		resp = append(resp, toEventResponse(ev))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) auctionView(a *domain.Auction, now int64) auctionResponse {
	resp := auctionResponse{
		ID:            a.ID,
		Seller:        a.Seller,
		Item:          a.Item,
		StartingPrice: h.amount(a.StartingPrice),
		DiscountRate:  h.amount(a.DiscountRate),
		StartAt:       unixTime(a.StartAt),
		EndsAt:        unixTime(a.EndsAt),
		Stopped:       a.Stopped,
		Expired:       !a.Stopped && a.IsExpired(now),
		Buyer:         a.Buyer,
	}
	if a.Stopped {
		v := h.amount(a.FinalPrice)
		resp.FinalPrice = &v
	}
	return resp
}

func (h *Handler) amount(v uint64) amountView {
	return amountView{Raw: v, Display: domain.FormatAmount(v, h.Decimals), Symbol: h.Symbol}
}

// writeLedgerError maps ledger and treasury failures to HTTP statuses.
func (h *Handler) writeLedgerError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case domain.KindInvalidArgument, domain.KindInvalidStartingPrice:
		status = http.StatusBadRequest
	case domain.KindNotFound:
		status = http.StatusNotFound
	case domain.KindAuctionStopped:
		status = http.StatusConflict
	case domain.KindExpired:
		status = http.StatusGone
	case domain.KindInsufficientFunds:
		status = http.StatusPaymentRequired
	default:
		switch {
		case errors.Is(err, domain.ErrInsufficientBalance):
			status = http.StatusPaymentRequired
		case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrAmountOverflow):
			status = http.StatusBadRequest
		}
	}

	if status == http.StatusInternalServerError {
		h.Metrics.RecordError()
		slog.Error("Request failed", slog.Any("error", err))
		writeError(w, status, "internal error")
		return
	}
	resp := errorResponse{Error: err.Error(), Retriable: domain.IsRetriable(err)}
	if kind != domain.KindUnknown {
		resp.Kind = kind.String()
	}
	writeJSON(w, status, resp)
}

func toEventResponse(ev event.Event) eventResponse {
	return eventResponse{
		Seq:       ev.GetSeq(),
		Type:      ev.GetType().String(),
		AuctionID: ev.GetAuctionID(),
		Ts:        unixTime(ev.GetTs()),
		Data:      ev,
	}
}

func auctionID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "auctionId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid auction id")
		return 0, false
	}
	return id, true
}

func parseUintParam(s string, def uint64) (uint64, error) {
	if s == "" {
		return def, nil
	}
	return strconv.ParseUint(s, 10, 64)
}

func unixTime(sec int64) string {
	return time.Unix(sec, 0).UTC().Format(time.RFC3339)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Encode response failed", slog.Any("error", err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
