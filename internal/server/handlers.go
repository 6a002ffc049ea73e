package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/moneta-app/moneta/internal/importer"
	"github.com/moneta-app/moneta/internal/ledger"
	"github.com/moneta-app/moneta/internal/services"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "moneta",
	})
}

func idParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

// asOfParam parses the optional ?asof=YYYY-MM-DD cutoff.
func asOfParam(r *http.Request) (ledger.NullDate, error) {
	raw := r.URL.Query().Get("asof")
	if raw == "" {
		return ledger.NullDate{}, nil
	}
	d, err := ledger.ParseDate(raw)
	if err != nil {
		return ledger.NullDate{}, &ledger.ValidationError{Field: "asof", Reason: err.Error()}
	}
	return ledger.SomeDate(d), nil
}

// --- accounts ---

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.store.Accounts(r.Context(), "")
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, accounts)
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var account ledger.Account
	if err := json.NewDecoder(r.Body).Decode(&account); err != nil {
		s.writeError(w, &ledger.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	if err := s.store.InsertAccount(r.Context(), &account); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, account)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		s.writeError(w, &ledger.ValidationError{Field: "id", Reason: "must be an integer"})
		return
	}
	account, err := s.store.GetAccount(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, account)
}

func (s *Server) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		s.writeError(w, &ledger.ValidationError{Field: "id", Reason: "must be an integer"})
		return
	}
	var account ledger.Account
	if err := json.NewDecoder(r.Body).Decode(&account); err != nil {
		s.writeError(w, &ledger.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	account.ID = id
	if err := s.store.UpdateAccount(r.Context(), &account); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, account)
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		s.writeError(w, &ledger.ValidationError{Field: "id", Reason: "must be an integer"})
		return
	}
	if err := s.store.DeleteAccount(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		s.writeError(w, &ledger.ValidationError{Field: "id", Reason: "must be an integer"})
		return
	}
	lines, err := s.store.RunningBalance(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, lines)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		s.writeError(w, &ledger.ValidationError{Field: "id", Reason: "must be an integer"})
		return
	}
	asOf, err := asOfParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	balances, err := s.store.AccountBalances(r.Context(), id, asOf)
	if err != nil {
		s.writeError(w, err)
		return
	}
	byAsset := make(map[string]string, len(balances))
	for assetID, balance := range balances {
		byAsset[strconv.FormatInt(assetID, 10)] = balance.String()
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"account_id": id, "balances": byAsset})
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		s.writeError(w, &ledger.ValidationError{Field: "id", Reason: "must be an integer"})
		return
	}
	var body struct {
		Records []importer.StatementRecord `json:"records"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, &ledger.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	result, err := s.importer.ImportStatement(r.Context(), id, body.Records)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// --- assets and prices ---

func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := s.store.Assets(r.Context(), "")
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, assets)
}

func (s *Server) handleCreateAsset(w http.ResponseWriter, r *http.Request) {
	var asset ledger.Asset
	if err := json.NewDecoder(r.Body).Decode(&asset); err != nil {
		s.writeError(w, &ledger.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	if err := s.store.InsertAsset(r.Context(), &asset); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, asset)
}

func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		s.writeError(w, &ledger.ValidationError{Field: "id", Reason: "must be an integer"})
		return
	}
	asset, err := s.store.GetAsset(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, asset)
}

func (s *Server) handleAddPrice(w http.ResponseWriter, r *http.Request) {
	var price ledger.AssetPrice
	if err := json.NewDecoder(r.Body).Decode(&price); err != nil {
		s.writeError(w, &ledger.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	if err := s.store.InsertPrice(r.Context(), &price); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, price)
}

// --- transactions ---

func (s *Server) handleRecordTransaction(w http.ResponseWriter, r *http.Request) {
	var in services.TransactionInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.writeError(w, &ledger.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	result, err := s.recorder.Record(r.Context(), in)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		s.writeError(w, &ledger.ValidationError{Field: "id", Reason: "must be an integer"})
		return
	}
	transaction, err := s.store.GetTransaction(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	entries, err := s.store.Entries(r.Context(), "transaction_id = ?", id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"transaction": transaction,
		"entries":     entries,
	})
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		s.writeError(w, &ledger.ValidationError{Field: "id", Reason: "must be an integer"})
		return
	}
	if err := s.recorder.Remove(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- lots ---

func int64Query(r *http.Request, key string) int64 {
	v, _ := strconv.ParseInt(r.URL.Query().Get(key), 10, 64)
	return v
}

func (s *Server) handleUnsoldLots(w http.ResponseWriter, r *http.Request) {
	lots, err := s.engine.Unsold(r.Context(), s.store, int64Query(r, "account"), int64Query(r, "asset"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, lots)
}

func (s *Server) handleRealized(w http.ResponseWriter, r *http.Request) {
	realized, err := s.engine.Realized(r.Context(), s.store, int64Query(r, "account"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, realized)
}

func (s *Server) handlePin(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		s.writeError(w, &ledger.ValidationError{Field: "id", Reason: "must be an integer"})
		return
	}
	var body struct {
		Pinned bool `json:"pinned"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, &ledger.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	assignments, err := s.recorder.Pin(r.Context(), id, body.Pinned)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, assignments)
}

// --- net worth and configuration ---

func (s *Server) handleNetWorth(w http.ResponseWriter, r *http.Request) {
	asOf, err := asOfParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	total, err := s.store.NetWorth(r.Context(), asOf)
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := map[string]any{"net_worth": total.String()}
	if asOf.Valid {
		resp["as_of"] = asOf.Date.String()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetConfiguration(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.store.GetConfiguration(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleSaveConfiguration(w http.ResponseWriter, r *http.Request) {
	var cfg ledger.Configuration
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.writeError(w, &ledger.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	if err := s.store.SaveConfiguration(r.Context(), &cfg); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cfg)
}
