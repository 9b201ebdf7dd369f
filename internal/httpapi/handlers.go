package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"tokoledger/backend/internal/domain"
)

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ListProducts(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := a.service.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleGetProductByBarcode(w http.ResponseWriter, r *http.Request) {
	product, err := a.service.GetProductByBarcode(r.Context(), chi.URLParam(r, "barcode"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductCreateRequest
	if !a.decode(w, r, &req) {
		return
	}
	product, err := a.service.CreateProduct(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"product": product})
}

func (a *API) handleStockIn(w http.ResponseWriter, r *http.Request) {
	var req domain.StockInRequest
	if !a.decode(w, r, &req) {
		return
	}
	resp, err := a.service.StockIn(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListSuppliers(w http.ResponseWriter, r *http.Request) {
	suppliers, err := a.service.ListSuppliers(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"suppliers": suppliers})
}

func (a *API) handleGetSupplier(w http.ResponseWriter, r *http.Request) {
	supplier, err := a.service.GetSupplier(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"supplier": supplier})
}

func (a *API) handleCreateSupplier(w http.ResponseWriter, r *http.Request) {
	var req domain.SupplierCreateRequest
	if !a.decode(w, r, &req) {
		return
	}
	supplier, err := a.service.CreateSupplier(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"supplier": supplier})
}

func (a *API) handleListSales(w http.ResponseWriter, r *http.Request) {
	sales, err := a.service.ListSales(r.Context(), r.URL.Query().Get("date"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sales": sales})
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.GetSale(r.Context(), chi.URLParam(r, "transactionNo"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleCreateSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleCreateRequest
	if !a.decode(w, r, &req) {
		return
	}
	sale, err := a.service.CreateSale(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"sale": sale})
}

func (a *API) handleReturnSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleReturnRequest
	if !a.decode(w, r, &req) {
		return
	}
	resp, err := a.service.ReturnSale(r.Context(), chi.URLParam(r, "transactionNo"), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleDeleteSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleDeleteRequest
	if !a.decode(w, r, &req) {
		return
	}
	if !a.checkManagerPIN(w, req.ManagerPIN) {
		return
	}
	if err := a.service.DeleteSale(r.Context(), chi.URLParam(r, "transactionNo"), req.Reason); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := a.service.ListPayments(r.Context(), strings.TrimSpace(r.URL.Query().Get("supplier_id")))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": payments})
}

func (a *API) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	payment, err := a.service.GetPayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payment": payment})
}

func (a *API) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	var req domain.SupplierPaymentCreateRequest
	if !a.decode(w, r, &req) {
		return
	}
	payment, err := a.service.CreatePayment(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"payment": payment})
}

func (a *API) handleUpdatePayment(w http.ResponseWriter, r *http.Request) {
	var req domain.SupplierPaymentUpdateRequest
	if !a.decode(w, r, &req) {
		return
	}
	payment, err := a.service.UpdatePayment(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payment": payment})
}

func (a *API) handleDeletePayment(w http.ResponseWriter, r *http.Request) {
	var req domain.SupplierPaymentDeleteRequest
	if !a.decode(w, r, &req) {
		return
	}
	if !a.checkManagerPIN(w, req.ManagerPIN) {
		return
	}
	if err := a.service.DeletePayment(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListHandCash(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	days, err := a.service.ListDays(r.Context(), query.Get("from"), query.Get("to"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": days})
}

func (a *API) handleOpenHandCash(w http.ResponseWriter, r *http.Request) {
	var req domain.HandCashOpenRequest
	if !a.decode(w, r, &req) {
		return
	}
	record, err := a.service.OpenDay(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"hand_cash": record})
}

func (a *API) handleGetHandCash(w http.ResponseWriter, r *http.Request) {
	record, err := a.service.GetDay(r.Context(), chi.URLParam(r, "date"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"hand_cash": record})
}

func (a *API) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req domain.WithdrawalRequest
	if !a.decode(w, r, &req) {
		return
	}
	record, err := a.service.Withdraw(r.Context(), chi.URLParam(r, "date"), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"hand_cash": record})
}

func (a *API) handleRollover(w http.ResponseWriter, r *http.Request) {
	record, err := a.service.RolloverDay(r.Context(), chi.URLParam(r, "date"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"hand_cash": record})
}

func (a *API) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	expenses, err := a.service.ListExpenses(r.Context(), r.URL.Query().Get("date"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"expenses": expenses})
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	logs, err := a.service.ListAuditLogs(r.Context(), limit)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit_logs": logs})
}
