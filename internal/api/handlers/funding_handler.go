package handlers

import (
	"net/http"
	"time"

	"alphawave/internal/funding"

	"github.com/gorilla/mux"
)

// FundingStatus - кэш планировщика фандинга (funding.Scheduler).
// Ни один метод не запускает прогон.
type FundingStatus interface {
	Latest() (*funding.Snapshot, bool)
}

// FundingHandler отдаёт последний результат агрегатора
//
// Endpoints:
// - GET /api/v1/funding - топ-N после дедупликации
// - GET /api/v1/funding/{symbol} - все биржи по символу (до дедупликации)
type FundingHandler struct {
	funding FundingStatus
}

func NewFundingHandler(f FundingStatus) *FundingHandler {
	return &FundingHandler{funding: f}
}

// FundingResponse - ответ GET /api/v1/funding
type FundingResponse struct {
	FetchedAt time.Time          `json:"fetched_at"`
	Fetched   int                `json:"fetched"`
	Records   []funding.Enriched `json:"records"`
	Report    string             `json:"report,omitempty"`
}

// GetFunding возвращает последний успешный прогон.
//
// GET /api/v1/funding?report=true
//
// Response 404 Not Found, пока не было ни одного прогона.
func (h *FundingHandler) GetFunding(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.latest(w)
	if !ok {
		return
	}

	resp := FundingResponse{
		FetchedAt: snap.Result.FetchedAt,
		Fetched:   snap.Result.Fetched,
		Records:   nonNil(snap.Result.Top),
	}
	if r.URL.Query().Get("report") == "true" {
		resp.Report = snap.Report
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetSymbol возвращает записи по символу со всех бирж.
//
// GET /api/v1/funding/{symbol}
//
// Символ передаётся как есть: /api/v1/funding/BTC/USDT:USDT
func (h *FundingHandler) GetSymbol(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	snap, ok := h.latest(w)
	if !ok {
		return
	}

	records := snap.Result.BySymbol(symbol)
	if len(records) == 0 {
		writeError(w, http.StatusNotFound, "SYMBOL_NOT_FOUND", "no data found for symbol: "+symbol, funding.ErrSymbolNotFound)
		return
	}
	writeJSON(w, http.StatusOK, FundingResponse{
		FetchedAt: snap.Result.FetchedAt,
		Fetched:   snap.Result.Fetched,
		Records:   records,
	})
}

func (h *FundingHandler) latest(w http.ResponseWriter) (*funding.Snapshot, bool) {
	if h.funding == nil {
		writeError(w, http.StatusServiceUnavailable, "FUNDING_DISABLED", "funding aggregator not running", nil)
		return nil, false
	}
	snap, ok := h.funding.Latest()
	if !ok || snap.Result == nil {
		writeError(w, http.StatusNotFound, "NO_DATA", "no funding rate data available", funding.ErrNoData)
		return nil, false
	}
	return snap, true
}

func nonNil(records []funding.Enriched) []funding.Enriched {
	if records == nil {
		return []funding.Enriched{}
	}
	return records
}
