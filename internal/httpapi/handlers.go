package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"tiendapos/backend/internal/domain"
	"tiendapos/backend/internal/service"
)

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if !a.decodeRequest(w, r, &req) {
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCSRFToken returns a stateless token valid for the current hour bucket.
// Mutating requests carry it in X-CSRF-Token.
func (a *API) handleCSRFToken(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

func (a *API) handleCreateSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleRequest
	if !a.decodeRequest(w, r, &req) {
		return
	}

	result, err := a.service.CreateSale(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	doc, err := a.service.GetSalesDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// handleCreateReturn requires the manager PIN unless the caller is an admin.
func (a *API) handleCreateReturn(w http.ResponseWriter, r *http.Request) {
	var req domain.ReturnRequest
	if !a.decodeRequest(w, r, &req) {
		return
	}
	req.SaleID = chi.URLParam(r, "id")

	actor, _ := service.ActorFromContext(r.Context())
	if actor.Role != domain.RoleAdmin {
		if !a.pinLimiter.Allow("pin:return:" + clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, errors.New("too many manager PIN attempts"))
			return
		}
		if !a.auth.ValidateManagerPIN(req.ManagerPIN) {
			writeError(w, http.StatusForbidden, errors.New("manager PIN required for returns"))
			return
		}
	}

	result, err := a.service.CreateReturn(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (a *API) handleCreateQuote(w http.ResponseWriter, r *http.Request) {
	var req domain.QuoteRequest
	if !a.decodeRequest(w, r, &req) {
		return
	}

	quote, err := a.service.CreateQuote(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, quote)
}

func (a *API) handleConvertQuote(w http.ResponseWriter, r *http.Request) {
	var req domain.QuoteConvertRequest
	if !a.decodeRequest(w, r, &req) {
		return
	}

	result, err := a.service.ConvertQuote(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleCancelQuote(w http.ResponseWriter, r *http.Request) {
	quote, err := a.service.CancelQuote(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (a *API) handleAdjustStock(w http.ResponseWriter, r *http.Request) {
	var req domain.StockAdjustRequest
	if !a.decodeRequest(w, r, &req) {
		return
	}

	resp, err := a.service.AdjustStock(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleReceivePurchase(w http.ResponseWriter, r *http.Request) {
	var req domain.PurchaseReceiveRequest
	if !a.decodeRequest(w, r, &req) {
		return
	}

	resp, err := a.service.ReceivePurchase(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleTransferStock(w http.ResponseWriter, r *http.Request) {
	var req domain.StockTransferRequest
	if !a.decodeRequest(w, r, &req) {
		return
	}

	resp, err := a.service.TransferStock(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type rebuildStockRequest struct {
	BranchID  string `json:"branch_id"`
	VariantID string `json:"variant_id"`
}

// handleRebuildStock rebuilds one variant, or the whole branch when no
// variant is named.
func (a *API) handleRebuildStock(w http.ResponseWriter, r *http.Request) {
	var req rebuildStockRequest
	if !a.decodeRequest(w, r, &req) {
		return
	}

	if strings.TrimSpace(req.VariantID) == "" {
		results, err := a.service.RebuildBranchStock(r.Context(), req.BranchID)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": results})
		return
	}

	result, err := a.service.RebuildStockOnHand(r.Context(), req.BranchID, req.VariantID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": []domain.RebuildResult{result}})
}

func (a *API) handleKardex(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	movements, err := a.service.GetKardex(r.Context(),
		query.Get("branch_id"),
		query.Get("variant_id"),
		parsePositiveLimit(query.Get("limit"), 100, 500),
		parseOffset(query.Get("offset")),
	)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"movements": movements})
}

func (a *API) handleOnHand(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	qty, err := a.service.GetOnHand(r.Context(), query.Get("branch_id"), query.Get("variant_id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"variant_id": query.Get("variant_id"),
		"qty":        qty,
	})
}

func (a *API) handleCashOpen(w http.ResponseWriter, r *http.Request) {
	var req domain.CashSessionOpenRequest
	if !a.decodeRequest(w, r, &req) {
		return
	}

	session, err := a.service.OpenCashSession(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (a *API) handleCashStatus(w http.ResponseWriter, r *http.Request) {
	session, err := a.service.CashSessionStatus(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (a *API) handleCashSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := a.service.CashSessionSummary(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleCashMovement(w http.ResponseWriter, r *http.Request) {
	var req domain.CashMovementRequest
	if !a.decodeRequest(w, r, &req) {
		return
	}

	movement, err := a.service.RegisterCashMovement(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, movement)
}

func (a *API) handleCashClose(w http.ResponseWriter, r *http.Request) {
	var req domain.CashSessionCloseRequest
	if !a.decodeRequest(w, r, &req) {
		return
	}

	resp, err := a.service.CloseCashSession(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req domain.CustomerCreateRequest
	if !a.decodeRequest(w, r, &req) {
		return
	}

	customer, err := a.service.CreateCustomer(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, customer)
}

func (a *API) handleGetCustomer(w http.ResponseWriter, r *http.Request) {
	customer, err := a.service.GetCustomer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, customer)
}

func (a *API) handleDeactivateCustomer(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeactivateCustomer(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleCustomerPayment(w http.ResponseWriter, r *http.Request) {
	var req domain.CustomerPaymentRequest
	if !a.decodeRequest(w, r, &req) {
		return
	}

	resp, err := a.service.PayCustomerAccount(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleCustomerStatement(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	entries, err := a.service.GetCustomerStatement(r.Context(),
		chi.URLParam(r, "id"),
		parsePositiveLimit(query.Get("limit"), 50, 500),
		parseOffset(query.Get("offset")),
	)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (a *API) handleRebuildBalance(w http.ResponseWriter, r *http.Request) {
	result, err := a.service.RebuildCustomerBalance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleUnitPrice(w http.ResponseWriter, r *http.Request) {
	qty := decimal.NewFromInt(1)
	if raw := strings.TrimSpace(r.URL.Query().Get("qty")); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("qty must be a decimal number"))
			return
		}
		qty = parsed
	}

	quote, err := a.service.UnitPrice(r.Context(), chi.URLParam(r, "sku"), qty)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductCreateRequest
	if !a.decodeRequest(w, r, &req) {
		return
	}

	resp, err := a.service.CreateProduct(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleSetPriceTiers(w http.ResponseWriter, r *http.Request) {
	var req domain.PriceTiersRequest
	if !a.decodeRequest(w, r, &req) {
		return
	}

	tiers, err := a.service.SetPriceTiers(r.Context(), chi.URLParam(r, "sku"), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tiers": tiers})
}

func (a *API) handleDefaultVariant(w http.ResponseWriter, r *http.Request) {
	variant, err := a.service.GetDefaultVariant(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, variant)
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	logs, err := a.service.ListAuditLogs(r.Context(),
		query.Get("branch_id"),
		query.Get("date"),
		parsePositiveLimit(query.Get("limit"), 100, 500),
	)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (a *API) handleAgingReport(w http.ResponseWriter, r *http.Request) {
	report, err := a.service.AgingReport(r.Context(), time.Now().UTC())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleCashDiscrepancies(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	sessions, err := a.service.CashDiscrepancies(r.Context(),
		query.Get("branch_id"),
		parsePositiveLimit(query.Get("limit"), 10, 100),
	)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (a *API) handleDailySummary(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	summary, err := a.service.DailySummary(r.Context(), query.Get("branch_id"), query.Get("date"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleListCashiers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"cashiers": a.auth.ListCashiers(r.Context())})
}

func (a *API) handleCreateCashier(w http.ResponseWriter, r *http.Request) {
	var req domain.CashierCreateRequest
	if !a.decodeRequest(w, r, &req) {
		return
	}

	cashier, err := a.auth.CreateCashier(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"cashier": cashier})
}
