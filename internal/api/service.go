// Package api provides the HTTP handlers for submitting execute messages
// and querying listings, staked positions and the contract configuration.
//
// All token amounts use shopspring/decimal. Amounts are serialized as JSON
// strings to avoid float rounding.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/rwastockholm/custody-engine/internal/contract"
	"github.com/rwastockholm/custody-engine/internal/dispatch"
	"github.com/rwastockholm/custody-engine/internal/model"
	"github.com/rwastockholm/custody-engine/internal/reward"
)

// Service adapts HTTP requests to dispatcher calls. It holds no state of
// its own; serialization happens inside the dispatcher.
type Service struct {
	dispatcher *dispatch.Dispatcher
	validate   *validator.Validate
}

// NewService creates a new API service.
func NewService(d *dispatch.Dispatcher) *Service {
	v := validator.New()
	v.RegisterValidation("address", func(fl validator.FieldLevel) bool {
		return contract.ValidateAddress(fl.Field().String()) == nil
	})
	v.RegisterValidation("tokenid", func(fl validator.FieldLevel) bool {
		return contract.ValidateTokenID(fl.Field().String()) == nil
	})
	return &Service{dispatcher: d, validate: v}
}

// --- Request/Response types ---

// ExecuteRequest is the generic envelope for POST /api/v1/execute.
type ExecuteRequest struct {
	Sender string       `json:"sender" validate:"required,address"`
	Funds  []model.Coin `json:"funds"`
	Msg    dispatch.Msg `json:"msg"`
}

// SenderRequest is the body of routes whose target is in the path.
type SenderRequest struct {
	Sender string       `json:"sender" validate:"required,address"`
	Funds  []model.Coin `json:"funds"`
}

// ListRequest is the JSON body for POST /api/v1/listings.
type ListRequest struct {
	Sender  string     `json:"sender" validate:"required,address"`
	TokenID string     `json:"token_id" validate:"required,tokenid"`
	Price   model.Coin `json:"price"`
}

// StakeRequest is the JSON body for POST /api/v1/stakes.
type StakeRequest struct {
	Sender      string `json:"sender" validate:"required,address"`
	NFTContract string `json:"nft_contract" validate:"required,address"`
	TokenID     string `json:"token_id" validate:"required,tokenid"`
}

// ReceiveNftRequest is posted by an NFT contract after From transferred
// TokenID to this contract.
type ReceiveNftRequest struct {
	Sender  string          `json:"sender" validate:"required,address"`
	From    string          `json:"from" validate:"required,address"`
	TokenID string          `json:"token_id" validate:"required,tokenid"`
	Msg     json.RawMessage `json:"msg,omitempty"`
}

// ReceiveTokenRequest is posted by a token contract after From transferred
// Amount to this contract.
type ReceiveTokenRequest struct {
	Sender string          `json:"sender" validate:"required,address"`
	From   string          `json:"from" validate:"required,address"`
	Amount decimal.Decimal `json:"amount"`
	Msg    json.RawMessage `json:"msg,omitempty"`
}

// RateRequest is the JSON body for the admin rate routes.
type RateRequest struct {
	Sender string          `json:"sender" validate:"required,address"`
	Rate   decimal.Decimal `json:"rate"`
}

// RewardsResponse is returned from GET /api/v1/stakes/{tokenID}/rewards.
type RewardsResponse struct {
	TokenID string `json:"token_id"`
	reward.Accrual
}

// --- Execute handlers ---

// Execute handles POST /api/v1/execute
func (s *Service) Execute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.execute(w, r, req.Sender, req.Funds, req.Msg)
}

// ListNft handles POST /api/v1/listings
func (s *Service) ListNft(w http.ResponseWriter, r *http.Request) {
	var req ListRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.execute(w, r, req.Sender, nil, dispatch.Msg{
		ListNftForSale: &dispatch.ListNftForSaleMsg{TokenID: req.TokenID, Price: req.Price},
	})
}

// BuyNft handles POST /api/v1/listings/{tokenID}/buy
func (s *Service) BuyNft(w http.ResponseWriter, r *http.Request) {
	s.tokenAction(w, r, func(id string) dispatch.Msg {
		return dispatch.Msg{BuyNft: &dispatch.TokenMsg{TokenID: id}}
	})
}

// StakeNft handles POST /api/v1/stakes
func (s *Service) StakeNft(w http.ResponseWriter, r *http.Request) {
	var req StakeRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.execute(w, r, req.Sender, nil, dispatch.Msg{
		StakeNft: &dispatch.StakeNftMsg{NFTContract: req.NFTContract, TokenID: req.TokenID},
	})
}

// UnstakeNft handles POST /api/v1/stakes/{tokenID}/unstake
func (s *Service) UnstakeNft(w http.ResponseWriter, r *http.Request) {
	s.tokenAction(w, r, func(id string) dispatch.Msg {
		return dispatch.Msg{UnstakeNft: &dispatch.TokenMsg{TokenID: id}}
	})
}

// ClaimRewards handles POST /api/v1/stakes/{tokenID}/claim
func (s *Service) ClaimRewards(w http.ResponseWriter, r *http.Request) {
	s.tokenAction(w, r, func(id string) dispatch.Msg {
		return dispatch.Msg{ClaimRewards: &dispatch.TokenMsg{TokenID: id}}
	})
}

// ReceiveNft handles POST /api/v1/receive/nft
func (s *Service) ReceiveNft(w http.ResponseWriter, r *http.Request) {
	var req ReceiveNftRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.execute(w, r, req.Sender, nil, dispatch.Msg{
		ReceiveNft: &dispatch.ReceiveNftMsg{Sender: req.From, TokenID: req.TokenID, Msg: req.Msg},
	})
}

// ReceiveToken handles POST /api/v1/receive/token
func (s *Service) ReceiveToken(w http.ResponseWriter, r *http.Request) {
	var req ReceiveTokenRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.execute(w, r, req.Sender, nil, dispatch.Msg{
		Receive: &dispatch.ReceiveMsg{Sender: req.From, Amount: req.Amount, Msg: req.Msg},
	})
}

// SetExchangeRate handles PUT /api/v1/config/exchange-rate
func (s *Service) SetExchangeRate(w http.ResponseWriter, r *http.Request) {
	var req RateRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.execute(w, r, req.Sender, nil, dispatch.Msg{SetExchangeRate: &dispatch.RateMsg{Rate: req.Rate}})
}

// SetRewardRate handles PUT /api/v1/config/reward-rate
func (s *Service) SetRewardRate(w http.ResponseWriter, r *http.Request) {
	var req RateRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.execute(w, r, req.Sender, nil, dispatch.Msg{SetRewardRate: &dispatch.RateMsg{Rate: req.Rate}})
}

// --- Query handlers ---

// ListListings handles GET /api/v1/listings
func (s *Service) ListListings(w http.ResponseWriter, r *http.Request) {
	listings, err := s.dispatcher.Listings(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	if listings == nil {
		listings = []model.Listing{}
	}
	writeJSON(w, http.StatusOK, listings)
}

// GetListing handles GET /api/v1/listings/{tokenID}
func (s *Service) GetListing(w http.ResponseWriter, r *http.Request) {
	listing, err := s.dispatcher.Listing(r.Context(), chi.URLParam(r, "tokenID"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

// ListPositions handles GET /api/v1/stakes
// Returns all staked positions, optionally filtered by ?owner=<address>.
func (s *Service) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.dispatcher.Positions(r.Context(), r.URL.Query().Get("owner"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	if positions == nil {
		positions = []model.StakedPosition{}
	}
	writeJSON(w, http.StatusOK, positions)
}

// GetPosition handles GET /api/v1/stakes/{tokenID}
func (s *Service) GetPosition(w http.ResponseWriter, r *http.Request) {
	pos, err := s.dispatcher.Position(r.Context(), chi.URLParam(r, "tokenID"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// GetPendingRewards handles GET /api/v1/stakes/{tokenID}/rewards
func (s *Service) GetPendingRewards(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "tokenID")
	acc, err := s.dispatcher.PendingRewards(r.Context(), id)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RewardsResponse{TokenID: id, Accrual: acc})
}

// GetSummary handles GET /api/v1/summary
func (s *Service) GetSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.dispatcher.Summary(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// GetConfig handles GET /api/v1/config
func (s *Service) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.dispatcher.Config(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// --- helpers ---

func (s *Service) tokenAction(w http.ResponseWriter, r *http.Request, build func(string) dispatch.Msg) {
	id := chi.URLParam(r, "tokenID")
	if err := contract.ValidateTokenID(id); err != nil {
		writeFailure(w, err)
		return
	}
	var req SenderRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.execute(w, r, req.Sender, req.Funds, build(id))
}

// decode reads and validates a JSON body into v. On failure it writes the
// 400 response and returns false.
func (s *Service) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Service) execute(w http.ResponseWriter, r *http.Request, sender string, funds []model.Coin, msg dispatch.Msg) {
	if err := contract.ValidateFunds(funds); err != nil {
		writeFailure(w, err)
		return
	}
	res, err := s.dispatcher.Execute(r.Context(), sender, funds, msg)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// StatusFor maps an execute or query error to its HTTP status.
func StatusFor(err error) int {
	if errors.Is(err, dispatch.ErrHostRejected) {
		return http.StatusBadGateway
	}
	switch model.CodeOf(err) {
	case model.CodeUnauthorized:
		return http.StatusForbidden
	case model.CodeRecordNotFound, model.CodeNoActiveListing, model.CodeNotStaked:
		return http.StatusNotFound
	case model.CodeInsufficientFunds:
		return http.StatusPaymentRequired
	case model.CodeInvalidTimestamp:
		return http.StatusConflict
	case model.CodeArithmeticOverflow:
		return http.StatusUnprocessableEntity
	case model.CodeInvalidRequest:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// writeFailure writes err with its status and domain code.
func writeFailure(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	body := map[string]string{"error": err.Error()}
	if code := model.CodeOf(err); code != "" {
		body["code"] = string(code)
	}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "err", err)
		body["error"] = "internal error"
	}
	writeJSON(w, status, body)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
