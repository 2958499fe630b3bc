package httpapi

import (
	"net/http"

	"tallernegreira/backend/internal/domain"
)

func (a *API) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	var req domain.PaymentCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.CreatePayment(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"msg":     "Pago registrado exitosamente",
		"payment": resp.Payment,
		"balance": resp.Balance,
	})
}

func (a *API) handlePaymentHistory(w http.ResponseWriter, r *http.Request) {
	from, err := parseDateParam(r, "fecha_inicio", false)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	to, err := parseDateParam(r, "fecha_fin", true)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	payments, err := a.service.PaymentHistory(r.Context(), domain.PaymentFilter{
		From:  from,
		To:    to,
		Limit: parsePositiveLimit(r.URL.Query().Get("per_page"), 0, maxPerPage),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payments)
}

func (a *API) handleRevenue(w http.ResponseWriter, r *http.Request) {
	from, err := parseDateParam(r, "fecha_inicio", false)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	to, err := parseDateParam(r, "fecha_fin", true)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	summary, err := a.service.Revenue(r.Context(), from, to)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	payment, err := a.service.GetPayment(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

func (a *API) handleOrderBalance(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	balance, err := a.service.OrderBalance(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

func (a *API) handleVoidPayment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.service.VoidPayment(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "Pago anulado")
}
