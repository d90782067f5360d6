package gateway

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"sagemarket/core/epoch"
	"sagemarket/gateway/middleware"
	"sagemarket/native/bank"
	"sagemarket/native/collateral"
	"sagemarket/native/common"
	"sagemarket/native/escrow"
	"sagemarket/native/fees"
	"sagemarket/native/mining"
	"sagemarket/native/orderbook"
	"sagemarket/native/vesting"
)

type errorResponse struct {
	Error string `json:"error"`
}

// errActorMismatch rejects a request whose body claims an acting address
// other than the authenticated token subject.
var errActorMismatch = errors.New("gateway: acting address does not match token subject")

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
}

// statusFor maps engine error taxonomy onto HTTP statuses: authorization
// failures to 403, unknown entities to 404, pauses to 503, everything else a
// caller mistake.
func statusFor(err error) int {
	switch {
	case errors.Is(err, common.ErrModulePaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, errActorMismatch),
		errors.Is(err, fees.ErrUnauthorized),
		errors.Is(err, fees.ErrOnlyOwner),
		errors.Is(err, collateral.ErrUnauthorizedSlasher),
		errors.Is(err, collateral.ErrOnlyOwner),
		errors.Is(err, mining.ErrUnauthorized),
		errors.Is(err, mining.ErrOnlyOwner),
		errors.Is(err, vesting.ErrUnauthorized),
		errors.Is(err, vesting.ErrOnlyOwner),
		errors.Is(err, escrow.ErrOnlyOwner),
		errors.Is(err, escrow.ErrNotClient),
		errors.Is(err, escrow.ErrNotParty),
		errors.Is(err, orderbook.ErrOnlyOwner),
		errors.Is(err, orderbook.ErrNotOrderOwner),
		errors.Is(err, epoch.ErrNotOperator):
		return http.StatusForbidden
	case errors.Is(err, escrow.ErrNotFound),
		errors.Is(err, orderbook.ErrPairNotFound),
		errors.Is(err, orderbook.ErrOrderNotFound),
		errors.Is(err, vesting.ErrEntryNotFound):
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}

func decodeBody(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("gateway: decode request: %w", err)
	}
	return nil
}

func parseAddress(s string) ([20]byte, error) {
	var out [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return out, fmt.Errorf("gateway: invalid address %q", s)
	}
	if len(raw) != len(out) {
		return out, fmt.Errorf("gateway: invalid address length %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

// actorAddress parses the address a request acts as. With bearer auth
// enabled the address must equal the authenticated token subject; a request
// cannot act on behalf of an identity it did not authenticate as.
func (s *Server) actorAddress(r *http.Request, raw string) ([20]byte, error) {
	addr, err := parseAddress(raw)
	if err != nil {
		return addr, err
	}
	if s.auth == nil {
		return addr, nil
	}
	subject, ok := middleware.Subject(r.Context())
	if !ok {
		return addr, errActorMismatch
	}
	authed, err := parseAddress(subject)
	if err != nil || authed != addr {
		return addr, errActorMismatch
	}
	return addr, nil
}

func parseHash(s string) ([32]byte, error) {
	var out [32]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return out, fmt.Errorf("gateway: invalid id %q", s)
	}
	if len(raw) != len(out) {
		return out, fmt.Errorf("gateway: invalid id length %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

func parseAmount(s string) (*big.Int, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, fmt.Errorf("gateway: amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("gateway: invalid amount %q", s)
	}
	return amount, nil
}

func hexAddress(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

func hexHash(id [32]byte) string {
	return "0x" + hex.EncodeToString(id[:])
}

func normalizeToken(s string) (string, error) {
	return bank.NormalizeToken(s)
}
