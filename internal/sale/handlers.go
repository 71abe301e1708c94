package sale

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"

	"github.com/noah-isme/pos-kasir/internal/backend"
	"github.com/noah-isme/pos-kasir/internal/cart"
	"github.com/noah-isme/pos-kasir/internal/common"
	"github.com/noah-isme/pos-kasir/internal/locale"
	"github.com/noah-isme/pos-kasir/internal/pricing"
	"github.com/noah-isme/pos-kasir/internal/session"
)

// Handler exposes Service over HTTP. DefaultLocale formats display values when
// neither ?lang= nor Accept-Language names a supported language.
type Handler struct {
	Svc           *Service
	DefaultLocale locale.Formatter
}

// Routes registers the POS endpoints on r. searchLimit, when set, wraps the
// stock search only.
func (h *Handler) Routes(r chi.Router, searchLimit func(http.Handler) http.Handler) {
	if searchLimit != nil {
		r.With(searchLimit).Get("/stock", h.SearchStock)
	} else {
		r.Get("/stock", h.SearchStock)
	}
	r.Route("/sessions", func(s chi.Router) {
		s.Post("/", h.OpenSession)
		s.Route("/{id}", func(one chi.Router) {
			one.Get("/", h.GetSession)
			one.Delete("/", h.DiscardSession)
			one.Post("/items", h.AddItem)
			one.Patch("/items/{index}", h.EditItem)
			one.Delete("/items/{index}", h.RemoveItem)
			one.Put("/rates", h.SetRates)
			one.Post("/submit", h.Submit)
		})
	})
	r.Route("/sales/{saleID}", func(s chi.Router) {
		s.Put("/payment", h.UpdatePayment)
		s.Post("/due/preview", h.PreviewDue)
		s.Post("/due", h.CollectDue)
	})
}

var validate = sync.OnceValue(func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
})

type openRequest struct {
	Channel string `json:"channel" validate:"omitempty,max=16"`
}

type addItemRequest struct {
	ProductID       any    `json:"productId" validate:"required"`
	VariantID       any    `json:"variantId"`
	Name            string `json:"name" validate:"required,max=255"`
	Code            string `json:"code" validate:"max=64"`
	VariantLabel    string `json:"variantLabel" validate:"max=255"`
	BrandLabel      string `json:"brandLabel" validate:"max=255"`
	SalePrice       any    `json:"salePrice" validate:"required"`
	ShadowSalePrice any    `json:"shadowSalePrice"`
	Stock           any    `json:"stock" validate:"required"`
}

type editItemRequest struct {
	Quantity  any `json:"quantity"`
	UnitPrice any `json:"unitPrice"`
}

type ratesRequest struct {
	VatRate      any `json:"vatRate"`
	DiscountRate any `json:"discountRate"`
}

type submitRequest struct {
	CustomerID    any    `json:"customerId"`
	CustomerName  string `json:"customerName" validate:"max=120"`
	CustomerPhone string `json:"customerPhone" validate:"max=32"`
	Date          string `json:"date" validate:"max=32"`
	Note          string `json:"note" validate:"max=1000"`
	PaidAmount    any    `json:"paidAmount"`
}

type paymentRequest struct {
	GrandTotal  any    `json:"grandTotal" validate:"required"`
	PaidAmount  any    `json:"paidAmount" validate:"required"`
	PaymentType string `json:"paymentType" validate:"required,max=32"`
}

type tenderRequest struct {
	System string `json:"system" validate:"required,max=32"`
	Amount any    `json:"amount" validate:"required"`
}

type dueRequest struct {
	GrandTotal  any             `json:"grandTotal" validate:"required"`
	AlreadyPaid any             `json:"alreadyPaid"`
	Payments    []tenderRequest `json:"payments" validate:"dive"`
	Trim        bool            `json:"trim"`
}

func (h *Handler) OpenSession(w http.ResponseWriter, r *http.Request) {
	cashierID, ok := h.cashier(w, r)
	if !ok {
		return
	}
	var req openRequest
	if !h.decode(w, r, &req, true) {
		return
	}
	sess, err := h.Svc.Open(r.Context(), cashierID, req.Channel)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": newSessionView(sess, h.formatter(r))})
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	cashierID, ok := h.cashier(w, r)
	if !ok {
		return
	}
	sess, err := h.Svc.View(r.Context(), cashierID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": newSessionView(sess, h.formatter(r))})
}

func (h *Handler) DiscardSession(w http.ResponseWriter, r *http.Request) {
	cashierID, ok := h.cashier(w, r)
	if !ok {
		return
	}
	if err := h.Svc.Discard(r.Context(), cashierID, chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SearchStock(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Svc.SearchStock(r.Context(), r.URL.Query().Get("search"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": newStockViews(entries, h.formatter(r))})
}

func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	cashierID, ok := h.cashier(w, r)
	if !ok {
		return
	}
	var req addItemRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	p := cart.Product{
		ProductID:    idString(req.ProductID),
		VariantID:    cart.NormalizeVariantID(idString(req.VariantID)),
		Name:         strings.TrimSpace(req.Name),
		Code:         strings.TrimSpace(req.Code),
		VariantLabel: strings.TrimSpace(req.VariantLabel),
		BrandLabel:   strings.TrimSpace(req.BrandLabel),
		SalePrice:    pricing.MoneyFromAny(req.SalePrice),
		Stock:        pricing.QuantityFromAny(req.Stock),
	}
	if req.ShadowSalePrice != nil {
		shadow := pricing.MoneyFromAny(req.ShadowSalePrice)
		p.ShadowSalePrice = &shadow
	}
	sess, index, err := h.Svc.AddProduct(r.Context(), cashierID, chi.URLParam(r, "id"), p)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data": newSessionView(sess, h.formatter(r)),
		"meta": map[string]any{"index": index},
	})
}

func (h *Handler) EditItem(w http.ResponseWriter, r *http.Request) {
	cashierID, ok := h.cashier(w, r)
	if !ok {
		return
	}
	var req editItemRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	var in EditInput
	if req.Quantity != nil {
		q := pricing.QuantityFromAny(req.Quantity)
		in.Quantity = &q
	}
	if req.UnitPrice != nil {
		p := pricing.MoneyFromAny(req.UnitPrice)
		in.UnitPrice = &p
	}
	sess, err := h.Svc.EditItem(r.Context(), cashierID, chi.URLParam(r, "id"), itemIndex(r), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": newSessionView(sess, h.formatter(r))})
}

func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	cashierID, ok := h.cashier(w, r)
	if !ok {
		return
	}
	sess, err := h.Svc.RemoveItem(r.Context(), cashierID, chi.URLParam(r, "id"), itemIndex(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": newSessionView(sess, h.formatter(r))})
}

func (h *Handler) SetRates(w http.ResponseWriter, r *http.Request) {
	cashierID, ok := h.cashier(w, r)
	if !ok {
		return
	}
	var req ratesRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	var in RatesInput
	if req.VatRate != nil {
		v := pricing.MoneyFromAny(req.VatRate)
		in.VatRate = &v
	}
	if req.DiscountRate != nil {
		d := pricing.MoneyFromAny(req.DiscountRate)
		in.DiscountRate = &d
	}
	sess, err := h.Svc.SetRates(r.Context(), cashierID, chi.URLParam(r, "id"), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": newSessionView(sess, h.formatter(r))})
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	cashierID, ok := h.cashier(w, r)
	if !ok {
		return
	}
	var req submitRequest
	if !h.decode(w, r, &req, true) {
		return
	}
	in := SubmitInput{
		CustomerID:    idString(req.CustomerID),
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
		Date:          req.Date,
		Note:          req.Note,
	}
	if req.PaidAmount != nil {
		paid := pricing.MoneyFromAny(req.PaidAmount)
		in.PaidAmount = &paid
	}
	receipt, err := h.Svc.Submit(r.Context(), cashierID, chi.URLParam(r, "id"), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": newReceiptView(receipt, h.formatter(r))})
}

func (h *Handler) UpdatePayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	saleID := chi.URLParam(r, "saleID")
	in := PaymentInput{
		GrandTotal:  pricing.MoneyFromAny(req.GrandTotal),
		PaidAmount:  pricing.MoneyFromAny(req.PaidAmount),
		PaymentType: req.PaymentType,
	}
	res, err := h.Svc.UpdatePayment(r.Context(), saleID, in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": newPaymentView(saleID, in, res, h.formatter(r))})
}

func (h *Handler) PreviewDue(w http.ResponseWriter, r *http.Request) {
	var req dueRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	res, payments, err := h.Svc.PreviewDue(req.input())
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": newDueView(chi.URLParam(r, "saleID"), payments, res, h.formatter(r))})
}

func (h *Handler) CollectDue(w http.ResponseWriter, r *http.Request) {
	var req dueRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	out, err := h.Svc.CollectDue(r.Context(), chi.URLParam(r, "saleID"), req.input())
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": newDueView(out.SaleID, out.Payments, out.Result, h.formatter(r))})
}

func (req dueRequest) input() DueInput {
	in := DueInput{
		GrandTotal:  pricing.MoneyFromAny(req.GrandTotal),
		AlreadyPaid: pricing.MoneyFromAny(req.AlreadyPaid),
		Trim:        req.Trim,
	}
	for _, t := range req.Payments {
		in.Payments = append(in.Payments, Tender{System: t.System, Amount: pricing.MoneyFromAny(t.Amount)})
	}
	return in
}

func (h *Handler) cashier(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := common.CashierID(r.Context())
	if !ok || id == "" {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return "", false
	}
	return id, true
}

// decode reads a JSON body and runs struct validation. allowEmpty accepts a
// missing body as the zero request.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) bool {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		if !(allowEmpty && errors.Is(err, io.EOF)) {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				common.JSONError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large", nil)
				return false
			}
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
			return false
		}
	}
	if err := validate().Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			h.writeError(w, validationFields(verrs))
			return false
		}
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return false
	}
	return true
}

func validationFields(verrs validator.ValidationErrors) common.FieldErrors {
	out := common.FieldErrors{}
	for _, fe := range verrs {
		field := fe.Namespace()
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}
		switch fe.Tag() {
		case "required":
			out.Add(field, "is required")
		case "max":
			out.Add(field, fmt.Sprintf("must be at most %s characters", fe.Param()))
		default:
			out.Add(field, "is invalid")
		}
	}
	return out
}

// formatter picks the display locale: ?lang= first, then Accept-Language.
func (h *Handler) formatter(r *http.Request) locale.Formatter {
	fallback := h.DefaultLocale
	if fallback == (locale.Formatter{}) {
		fallback = locale.English
	}
	if lang := r.URL.Query().Get("lang"); lang != "" {
		if f, ok := locale.ForLanguage(lang); ok {
			return f
		}
	}
	return locale.Negotiate(r.Header.Get("Accept-Language"), fallback)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var (
		upstream *backend.StatusError
		appErr   *common.AppError
		reporter common.FieldReporter
	)
	switch {
	case err == nil:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unknown error", nil)
	case errors.Is(err, session.ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "SESSION_NOT_FOUND", "cart session not found", nil)
	case errors.Is(err, backend.ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "SALE_NOT_FOUND", "sale not found", nil)
	case errors.Is(err, ErrSubmitInFlight):
		common.JSONError(w, http.StatusConflict, "SUBMIT_IN_PROGRESS", "sale submission already in progress", nil)
	case errors.Is(err, backend.ErrUnavailable):
		common.JSONError(w, http.StatusServiceUnavailable, "BACKEND_UNAVAILABLE", "sales backend unavailable", nil)
	case errors.As(err, &upstream):
		common.JSONError(w, http.StatusBadGateway, "BACKEND_ERROR", upstream.Message, nil)
	case errors.As(err, &appErr):
		common.WriteAppError(w, err)
	case errors.As(err, &reporter):
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_FAILED", "validation failed", common.FieldErrorsFrom(err))
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}

func itemIndex(r *http.Request) int {
	return common.AtoiDefault(chi.URLParam(r, "index"), -1)
}

// idString accepts ids sent as numbers or strings.
func idString(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(id)
	case json.Number:
		return id.String()
	default:
		return strings.TrimSpace(fmt.Sprint(id))
	}
}
