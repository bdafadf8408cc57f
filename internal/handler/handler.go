package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/rojaria/smartcart/internal/auth"
	"github.com/rojaria/smartcart/internal/gzip"
	"github.com/rojaria/smartcart/internal/handler/config"
	"github.com/rojaria/smartcart/internal/ledger"
	"github.com/rojaria/smartcart/internal/logger"
	"github.com/rojaria/smartcart/internal/model"
	"github.com/rojaria/smartcart/internal/service"
)

func Serve(cfg config.Config, auth auth.Auth, service service.Service, zaplog *zap.Logger) error {
	h := newHandler(auth, service, cfg, zaplog)
	router := h.newRouter()

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: router,
	}

	return srv.ListenAndServe()
}

type handler struct {
	auth    auth.Auth
	service service.Service
	cfg     config.Config
	zaplog  *zap.Logger
}

func newHandler(auth auth.Auth, service service.Service, cfg config.Config, zaplog *zap.Logger) *handler {
	return &handler{
		auth:    auth,
		service: service,
		cfg:     cfg,
		zaplog:  zaplog,
	}
}

func (h *handler) newRouter() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/register", gzip.GzipMiddleware(logger.RequestLogMdlw(h.auth.Register, h.zaplog)))
	mux.HandleFunc("POST /api/auth/login", gzip.GzipMiddleware(logger.RequestLogMdlw(h.auth.Login, h.zaplog)))
	mux.HandleFunc("POST /api/orders", gzip.GzipMiddleware(logger.RequestLogMdlw(h.auth.Middleware(h.PostOrder), h.zaplog)))
	mux.HandleFunc("POST /api/payment/confirm", gzip.GzipMiddleware(logger.RequestLogMdlw(h.auth.Middleware(h.PostConfirm), h.zaplog)))
	mux.HandleFunc("POST /api/payment/save", gzip.GzipMiddleware(logger.RequestLogMdlw(h.PostPaymentSave, h.zaplog)))
	mux.HandleFunc("GET /api/payment/history/{userId}", gzip.GzipMiddleware(logger.RequestLogMdlw(h.GetPaymentHistory, h.zaplog)))
	mux.HandleFunc("GET /api/orders/search", gzip.GzipMiddleware(logger.RequestLogMdlw(h.GetOrderSearch, h.zaplog)))
	mux.HandleFunc("GET /api/orders/{orderId}", gzip.GzipMiddleware(logger.RequestLogMdlw(h.GetOrder, h.zaplog)))
	mux.HandleFunc("POST /api/refund", gzip.GzipMiddleware(logger.RequestLogMdlw(h.auth.Middleware(h.PostRefund), h.zaplog)))
	mux.HandleFunc("POST /api/cart/register", gzip.GzipMiddleware(logger.RequestLogMdlw(h.auth.Middleware(h.PostCartRegister), h.zaplog)))
	mux.HandleFunc("POST /api/cart/release", gzip.GzipMiddleware(logger.RequestLogMdlw(h.auth.Middleware(h.PostCartRelease), h.zaplog)))
	mux.HandleFunc("GET /health", h.GetHealth)
	mux.HandleFunc("GET /{$}", h.GetRoot)

	return corsMiddleware(mux, h.cfg.CORSOrigins)
}

// corsMiddleware lets the SPA frontend, served from another origin during
// development, reach the API.
func corsMiddleware(next http.Handler, origins []string) http.Handler {
	allowed := make(map[string]bool, len(origins))
	wildcard := false
	for _, origin := range origins {
		if origin == "*" {
			wildcard = true
		}
		allowed[origin] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if wildcard {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else if allowed[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]any{"success": false, "error": code})
}

type PostOrderJSONRequest struct {
	Items      []model.OrderItem `json:"items"`
	UsedPoints int               `json:"usedPoints"`
}

func (h *handler) PostOrder(w http.ResponseWriter, r *http.Request) {
	uid := r.Header.Get(auth.UserCodeKey)

	var req PostOrderJSONRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST")
		return
	}

	order, err := h.service.CreateOrder(r.Context(), uid, req.Items, req.UsedPoints)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRequest):
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success":     true,
		"orderId":     order.OrderID,
		"finalAmount": order.FinalAmount,
	})
}

type PostConfirmJSONRequest struct {
	OrderID    string `json:"orderId"`
	PaymentKey string `json:"paymentKey"`
	Amount     int    `json:"amount"`
}

func (h *handler) PostConfirm(w http.ResponseWriter, r *http.Request) {
	uid := r.Header.Get(auth.UserCodeKey)

	var req PostConfirmJSONRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST")
		return
	}

	result, err := h.service.ConfirmOrder(r.Context(), uid, req.OrderID, req.PaymentKey, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRequest):
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST")
		case errors.Is(err, service.ErrUnauthorized):
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED")
		case errors.Is(err, service.ErrOrderNotFound):
			writeError(w, http.StatusNotFound, "ORDER_NOT_FOUND")
		case errors.Is(err, service.ErrPgConfirm):
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"success": false,
				"error":   "PG_CONFIRM_FAILED",
				"message": err.Error(),
			})
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"idempotent": result.Replayed,
		"data":       result.Order,
	})
}

type PostPaymentSaveJSONRequest struct {
	OrderID       string            `json:"orderId"`
	UserID        string            `json:"userId"`
	UserEmail     string            `json:"userEmail"`
	PaymentKey    string            `json:"paymentKey"`
	Amount        int               `json:"amount"`
	Discount      int               `json:"discount"`
	FinalAmount   int               `json:"finalAmount"`
	UsedPoints    int               `json:"usedPoints"`
	PaymentMethod string            `json:"paymentMethod"`
	Status        string            `json:"status"`
	TossData      json.RawMessage   `json:"tossData"`
	Items         []model.OrderItem `json:"items"`
}

func (h *handler) PostPaymentSave(w http.ResponseWriter, r *http.Request) {
	var req PostPaymentSaveJSONRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST")
		return
	}

	transaction := model.Transaction{
		OrderID:       req.OrderID,
		UserUID:       req.UserID,
		UserEmail:     req.UserEmail,
		PaymentKey:    req.PaymentKey,
		Amount:        req.Amount,
		Discount:      req.Discount,
		FinalAmount:   req.FinalAmount,
		UsedPoints:    req.UsedPoints,
		PaymentMethod: req.PaymentMethod,
		Status:        req.Status,
		TossData:      req.TossData,
	}
	for _, item := range req.Items {
		transaction.Items = append(transaction.Items, model.LineItem{
			ProductName: item.Name,
			Barcode:     item.Barcode,
			Price:       item.Price,
			Quantity:    item.Quantity,
			TotalPrice:  item.Price * item.Quantity,
		})
	}

	id, err := h.service.SaveTransaction(r.Context(), transaction)
	if err != nil {
		if errors.Is(err, service.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "transactionId": id})
}

func (h *handler) GetPaymentHistory(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	history, err := h.service.PaymentHistory(r.Context(), userID, limit)
	if err != nil {
		if errors.Is(err, service.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if history == nil {
		history = []ledger.HistoryRow{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": history})
}

type orderItemJSON struct {
	Name       string `json:"name"`
	Barcode    string `json:"barcode"`
	Price      int    `json:"price"`
	Quantity   int    `json:"quantity"`
	TotalPrice int    `json:"totalPrice"`
}

func (h *handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("orderId")

	transaction, err := h.service.OrderDetail(r.Context(), orderID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRequest):
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST")
		case errors.Is(err, service.ErrOrderNotFound):
			writeError(w, http.StatusNotFound, "ORDER_NOT_FOUND")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	items := make([]orderItemJSON, 0, len(transaction.Items))
	for _, item := range transaction.Items {
		items = append(items, orderItemJSON{
			Name:       item.ProductName,
			Barcode:    item.Barcode,
			Price:      item.Price,
			Quantity:   item.Quantity,
			TotalPrice: item.TotalPrice,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data": map[string]any{
			"orderId":      transaction.OrderID,
			"paymentId":    transaction.PaymentKey,
			"userUid":      transaction.UserUID,
			"status":       transaction.Status,
			"usedPoints": transaction.UsedPoints,
			// the transaction log does not record earned points; loyalty
			// grants live in the point history, not the payment row
			"earnedPoints": 0,
			"totalAmount":  transaction.FinalAmount,
			"items":        items,
			"createdAt":    transaction.CreatedAt,
		},
	})
}

func (h *handler) GetOrderSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	user := query.Get("user")
	limit, _ := strconv.Atoi(query.Get("limit"))

	var from, to time.Time
	if v := query.Get("from"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST")
			return
		}
		from = parsed
	}
	if v := query.Get("to"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST")
			return
		}
		to = parsed.Add(24*time.Hour - time.Nanosecond)
	}

	transactions, err := h.service.SearchOrders(r.Context(), user, from, to, limit)
	if err != nil {
		if errors.Is(err, service.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	data := make([]map[string]any, 0, len(transactions))
	for _, transaction := range transactions {
		data = append(data, map[string]any{
			"orderId":       transaction.OrderID,
			"paymentId":     transaction.PaymentKey,
			"userUid":       transaction.UserUID,
			"status":        transaction.Status,
			"finalAmount":   transaction.FinalAmount,
			"paymentMethod": transaction.PaymentMethod,
			"createdAt":     transaction.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": data})
}

type PostRefundJSONRequest struct {
	OrderID           string            `json:"orderId"`
	PaymentID         string            `json:"paymentId"`
	RefundItems       []model.OrderItem `json:"refundItems"`
	RefundAmount      float64           `json:"refundAmount"`
	Reason            string            `json:"reason"`
	AdminUID          string            `json:"adminUid"`
	ApplyEffects      bool              `json:"applyEffects"`
	UserUID           string            `json:"userUid"`
	OrderTotalAmount  int               `json:"orderTotalAmount"`
	OrderUsedPoints   int               `json:"orderUsedPoints"`
	OrderEarnedPoints int               `json:"orderEarnedPoints"`
}

func (h *handler) PostRefund(w http.ResponseWriter, r *http.Request) {
	var req PostRefundJSONRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST")
		return
	}

	adminUID := req.AdminUID
	if adminUID == "" {
		adminUID = r.Header.Get(auth.UserCodeKey)
	}

	result, err := h.service.Refund(r.Context(), service.RefundRequest{
		OrderID:      req.OrderID,
		PaymentKey:   req.PaymentID,
		Items:        req.RefundItems,
		Amount:       req.RefundAmount,
		Reason:       req.Reason,
		AdminUID:     adminUID,
		ApplyEffects: req.ApplyEffects,
		UserUID:      req.UserUID,
		OrderTotal:   req.OrderTotalAmount,
		UsedPoints:   req.OrderUsedPoints,
		EarnedPoints: req.OrderEarnedPoints,
	})
	if err != nil {
		var dup *service.DuplicateRefundError
		switch {
		case errors.Is(err, service.ErrInvalidRequest):
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST")
		case errors.Is(err, service.ErrOnlyFullRefund):
			writeError(w, http.StatusBadRequest, "ONLY_FULL_REFUND_ALLOWED")
		case errors.Is(err, service.ErrPaymentMismatch):
			writeError(w, http.StatusBadRequest, "PAYMENT_MISMATCH")
		case errors.Is(err, service.ErrOrderNotFound):
			writeError(w, http.StatusNotFound, "ORDER_NOT_FOUND")
		case errors.As(err, &dup):
			writeJSON(w, http.StatusConflict, map[string]any{
				"success":  false,
				"error":    "ALREADY_REFUNDED",
				"refundId": dup.RefundID,
			})
		case errors.Is(err, service.ErrPgRefund):
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"success": false,
				"error":   "PG_REFUND_FAILED",
				"message": err.Error(),
			})
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"refundId":   result.RefundID,
		"idempotent": result.Idempotent,
	})
}

type PostCartJSONRequest struct {
	CartNumber string `json:"cartNumber"`
}

func (h *handler) PostCartRegister(w http.ResponseWriter, r *http.Request) {
	uid := r.Header.Get(auth.UserCodeKey)

	var req PostCartJSONRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST")
		return
	}

	// Cart slots are three-digit labels; "7" and "007" are the same cart.
	cartNumber := req.CartNumber
	for len(cartNumber) < 3 {
		cartNumber = "0" + cartNumber
	}

	err := h.service.BindCart(uid, cartNumber)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRequest):
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST")
		case errors.Is(err, service.ErrCartInUse):
			writeError(w, http.StatusConflict, "CART_IN_USE")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "cartNumber": cartNumber})
}

func (h *handler) PostCartRelease(w http.ResponseWriter, r *http.Request) {
	uid := r.Header.Get(auth.UserCodeKey)

	if err := h.service.ReleaseCart(uid); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "OK",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "Smart Cart API",
	})
}

func (h *handler) GetRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Smart Cart API Server",
		"version": "1.0.0",
		"status":  "Running",
		"endpoints": map[string]string{
			"health":          "/health",
			"payment_save":    "POST /api/payment/save",
			"payment_history": "GET /api/payment/history/:userId",
			"payment_confirm": "POST /api/payment/confirm",
			"refund":          "POST /api/refund",
		},
	})
}
