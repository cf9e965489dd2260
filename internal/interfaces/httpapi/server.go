package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"rampbridge/internal/application"
	"rampbridge/internal/config"
	"rampbridge/internal/domain"

	"github.com/shopspring/decimal"
)

type WithdrawalAuthorizer interface {
	Authorize(ctx context.Context, in application.AuthorizeInput) (application.AuthorizeResult, error)
}

type DepositInitiator interface {
	InitiateDeposit(ctx context.Context, in application.DepositInput) (application.DepositResult, error)
	ApplyChargeStatus(ctx context.Context, charge application.Charge) error
}

type TransactionDirectory interface {
	Get(ctx context.Context, id string) (domain.Transaction, error)
	GetByReference(ctx context.Context, reference string) (domain.Transaction, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]domain.Transaction, error)
	ListByStatus(ctx context.Context, status domain.Status, limit int) ([]domain.Transaction, error)
	MarkSubmitted(ctx context.Context, id, chainRef string) error
	Cancel(ctx context.Context, id string) error
}

type TransferWebhook interface {
	ApplyTransferStatus(ctx context.Context, transfer application.Transfer) error
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

// Deps are the server's collaborators. Store and Transactions are mandatory;
// the worker binaries that only expose health and metrics leave the rest nil
// and the matching routes answer 503.
type Deps struct {
	Withdrawals  WithdrawalAuthorizer
	Deposits     DepositInitiator
	Transactions TransactionDirectory
	Payouts      TransferWebhook
	Store        Pinger
}

type Server struct {
	cfg       config.Config
	deps      Deps
	metrics   *Metrics
	buildInfo BuildInfo
}

func NewServer(cfg config.Config, deps Deps, metrics *Metrics, buildInfo BuildInfo) (*Server, error) {
	if deps.Store == nil {
		return nil, errors.New("http server requires a store")
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Server{cfg: cfg, deps: deps, metrics: metrics, buildInfo: buildInfo}, nil
}

func (s *Server) MetricsObserver() *Metrics {
	return s.metrics
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/withdrawals", s.handleWithdrawals)
	mux.HandleFunc("/withdrawals/submit", s.handleWithdrawalSubmit)
	mux.HandleFunc("/deposits", s.handleDeposits)
	mux.HandleFunc("/transactions", s.handleTransactions)
	mux.HandleFunc("/transactions/cancel", s.handleCancel)
	mux.HandleFunc("/webhooks/processor", s.handleProcessorWebhook)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/version", s.handleVersion)
	return mux
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.deps.Store.Ping(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, "db not ready")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleWithdrawals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.Withdrawals == nil {
		respondError(w, http.StatusServiceUnavailable, "withdrawals not served here")
		return
	}

	var payload struct {
		UserID        string `json:"user_id"`
		Token         string `json:"token"`
		Amount        string `json:"amount"`
		BankCode      string `json:"bank_code"`
		AccountNumber string `json:"account_number"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.UserID == "" || payload.BankCode == "" || payload.AccountNumber == "" {
		respondError(w, http.StatusBadRequest, "user_id, bank_code and account_number are required")
		return
	}
	amount, err := decimal.NewFromString(payload.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid amount")
		return
	}

	result, err := s.deps.Withdrawals.Authorize(r.Context(), application.AuthorizeInput{
		UserID:        payload.UserID,
		Token:         payload.Token,
		Amount:        amount,
		BankCode:      payload.BankCode,
		AccountNumber: payload.AccountNumber,
	})
	if err != nil {
		respondAppError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"transaction_id": result.TransactionID,
		"reference":      result.Request.Reference,
		"nonce":          result.Request.Nonce,
		"timestamp":      result.Request.Timestamp,
		"locked_rate":    result.LockedRate,
		"fiat_amount":    result.FiatAmount,
		"signature": map[string]string{
			"r": result.Signature.R,
			"s": result.Signature.S,
		},
	})
}

func (s *Server) handleWithdrawalSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.Transactions == nil {
		respondError(w, http.StatusServiceUnavailable, "transactions not served here")
		return
	}

	var payload struct {
		TransactionID string `json:"transaction_id"`
		ChainTxRef    string `json:"chain_tx_ref"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.TransactionID == "" {
		respondError(w, http.StatusBadRequest, "transaction_id is required")
		return
	}

	if err := s.deps.Transactions.MarkSubmitted(r.Context(), payload.TransactionID, payload.ChainTxRef); err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDeposits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.Deposits == nil {
		respondError(w, http.StatusServiceUnavailable, "deposits not served here")
		return
	}

	var payload struct {
		UserID     string `json:"user_id"`
		Token      string `json:"token"`
		FiatAmount string `json:"fiat_amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.UserID == "" {
		respondError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	fiat, err := decimal.NewFromString(payload.FiatAmount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid fiat_amount")
		return
	}

	result, err := s.deps.Deposits.InitiateDeposit(r.Context(), application.DepositInput{
		UserID:     payload.UserID,
		Token:      payload.Token,
		FiatAmount: fiat,
	})
	if err != nil {
		respondAppError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"transaction_id": result.TransactionID,
		"reference":      result.Reference,
		"locked_rate":    result.LockedRate,
		"crypto_amount":  result.CryptoAmount,
		"virtual_account": map[string]any{
			"account_number": result.VirtualAccount.AccountNumber,
			"bank_name":      result.VirtualAccount.BankName,
			"expires_at":     result.VirtualAccount.ExpiresAt,
		},
	})
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	if s.deps.Transactions == nil {
		respondError(w, http.StatusServiceUnavailable, "transactions not served here")
		return
	}

	query := r.URL.Query()
	if id := query.Get("id"); id != "" {
		tx, err := s.deps.Transactions.Get(r.Context(), id)
		if err != nil {
			respondAppError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, toTransactionView(tx))
		return
	}
	if reference := query.Get("reference"); reference != "" {
		tx, err := s.deps.Transactions.GetByReference(r.Context(), reference)
		if err != nil {
			respondAppError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, toTransactionView(tx))
		return
	}

	limit, err := parseLimit(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if user := query.Get("user"); user != "" {
		txs, err := s.deps.Transactions.ListByUser(r.Context(), user, limit)
		if err != nil {
			respondAppError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, toTransactionViews(txs))
		return
	}
	if raw := query.Get("status"); raw != "" {
		status := domain.Status(raw)
		if !status.Valid() {
			respondError(w, http.StatusBadRequest, "unknown status")
			return
		}
		txs, err := s.deps.Transactions.ListByStatus(r.Context(), status, limit)
		if err != nil {
			respondAppError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, toTransactionViews(txs))
		return
	}
	respondError(w, http.StatusBadRequest, "one of id, reference, user or status is required")
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.Transactions == nil {
		respondError(w, http.StatusServiceUnavailable, "transactions not served here")
		return
	}

	var payload struct {
		TransactionID string `json:"transaction_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.TransactionID == "" {
		respondError(w, http.StatusBadRequest, "transaction_id is required")
		return
	}

	if err := s.deps.Transactions.Cancel(r.Context(), payload.TransactionID); err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// handleProcessorWebhook receives transfer and charge notifications from the
// payments processor. Delivery is at-least-once, so every branch below must
// tolerate replays; the conditional status transitions downstream make that
// hold.
func (s *Server) handleProcessorWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		respondError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if !s.verifyWebhookSignature(body, r.Header.Get("X-Webhook-Signature")) {
		s.metrics.IncWebhookRejected()
		respondError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var envelope struct {
		Event string `json:"event"`
		Data  struct {
			ID            string `json:"id"`
			Reference     string `json:"reference"`
			Status        string `json:"status"`
			Amount        string `json:"amount"`
			FailureReason string `json:"failure_reason"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		s.metrics.IncWebhookRejected()
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	switch {
	case strings.HasPrefix(envelope.Event, "transfer."):
		if s.deps.Payouts == nil {
			respondError(w, http.StatusServiceUnavailable, "payouts not served here")
			return
		}
		err = s.deps.Payouts.ApplyTransferStatus(r.Context(), application.Transfer{
			ID:            envelope.Data.ID,
			Reference:     envelope.Data.Reference,
			Status:        transferStatusFrom(envelope.Data.Status),
			FailureReason: envelope.Data.FailureReason,
		})
	case strings.HasPrefix(envelope.Event, "charge."):
		if s.deps.Deposits == nil {
			respondError(w, http.StatusServiceUnavailable, "deposits not served here")
			return
		}
		err = s.deps.Deposits.ApplyChargeStatus(r.Context(), application.Charge{
			ID:            envelope.Data.ID,
			Reference:     envelope.Data.Reference,
			Status:        chargeStatusFrom(envelope.Data.Status),
			FailureReason: envelope.Data.FailureReason,
		})
	default:
		// Unknown event families are acknowledged so the processor stops
		// redelivering them.
		respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	if errors.Is(err, application.ErrNotFound) {
		// A reference we never issued. Acknowledge; redelivery cannot fix it.
		s.metrics.IncWebhookRejected()
		respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "webhook processing failed")
		return
	}
	s.metrics.IncWebhookAccepted()
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// verifyWebhookSignature checks the hex HMAC-SHA256 of the raw body. An empty
// configured secret disables verification, for local development only.
func (s *Server) verifyWebhookSignature(body []byte, header string) bool {
	if s.cfg.WebhookSecret == "" {
		return true
	}
	provided, err := hex.DecodeString(strings.TrimSpace(header))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(s.cfg.WebhookSecret))
	mac.Write(body)
	return hmac.Equal(provided, mac.Sum(nil))
}

func transferStatusFrom(raw string) application.TransferStatus {
	switch strings.ToLower(raw) {
	case "success", "successful", "completed":
		return application.TransferSuccess
	case "failed", "reversed":
		return application.TransferFailed
	default:
		return application.TransferPending
	}
}

func chargeStatusFrom(raw string) application.ChargeStatus {
	switch strings.ToLower(raw) {
	case "settled", "success", "successful":
		return application.ChargeSettled
	case "failed", "expired":
		return application.ChargeFailed
	default:
		return application.ChargePending
	}
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	snap := s.metrics.Snapshot()

	uptime := time.Since(snap.StartTime).Seconds()
	lag := float64(0)
	if snap.LastProcessed > 0 && snap.LatestBlock >= snap.LastProcessed {
		lag = float64(snap.LatestBlock - snap.LastProcessed)
	}

	fmt.Fprintf(w, "rampbridge_uptime_seconds %.0f\n", uptime)
	fmt.Fprintf(w, "rampbridge_latest_block %d\n", snap.LatestBlock)
	fmt.Fprintf(w, "rampbridge_last_processed_block %d\n", snap.LastProcessed)
	fmt.Fprintf(w, "rampbridge_block_lag %.0f\n", lag)
	fmt.Fprintf(w, "rampbridge_last_batch_count %d\n", snap.LastBatchCount)
	fmt.Fprintf(w, "rampbridge_events_total %d\n", snap.TotalEvents)
	fmt.Fprintf(w, "rampbridge_events_matched_total %d\n", snap.EventsMatched)
	fmt.Fprintf(w, "rampbridge_events_orphaned_total %d\n", snap.EventsOrphaned)
	fmt.Fprintf(w, "rampbridge_orphan_alerts_total %d\n", snap.OrphanAlerts)
	fmt.Fprintf(w, "rampbridge_payouts_initiated_total %d\n", snap.PayoutsInitiated)
	fmt.Fprintf(w, "rampbridge_payout_retries_total %d\n", snap.PayoutRetries)
	fmt.Fprintf(w, "rampbridge_payouts_completed_total %d\n", snap.PayoutsCompleted)
	fmt.Fprintf(w, "rampbridge_payouts_failed_total %d\n", snap.PayoutsFailed)
	fmt.Fprintf(w, "rampbridge_webhooks_accepted_total %d\n", snap.WebhooksAccepted)
	fmt.Fprintf(w, "rampbridge_webhooks_rejected_total %d\n", snap.WebhooksRejected)
	fmt.Fprintf(w, "rampbridge_kafka_messages_total %d\n", snap.KafkaMessages)
	fmt.Fprintf(w, "rampbridge_kafka_decode_errors_total %d\n", snap.KafkaDecodeErrs)
	fmt.Fprintf(w, "rampbridge_kafka_apply_errors_total %d\n", snap.KafkaApplyErrs)
	fmt.Fprintf(w, "rampbridge_kafka_commit_errors_total %d\n", snap.KafkaCommitErrs)
	fmt.Fprintf(w, "rampbridge_kafka_fetch_errors_total %d\n", snap.KafkaFetchErrs)
	fmt.Fprintf(w, "rampbridge_kafka_last_lag_seconds %.3f\n", snap.KafkaLastLag.Seconds())
	fmt.Fprintf(w, "rampbridge_kafka_max_lag_seconds %.3f\n", snap.KafkaMaxLag.Seconds())
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.buildInfo)
}

type transactionView struct {
	ID           string            `json:"id"`
	UserID       string            `json:"user_id"`
	Flow         domain.Flow       `json:"flow"`
	Status       domain.Status     `json:"status"`
	Token        string            `json:"token"`
	AmountSource decimal.Decimal   `json:"amount_source"`
	AmountTarget decimal.Decimal   `json:"amount_target"`
	Reference    string            `json:"reference"`
	ChainTxRef   string            `json:"chain_tx_ref,omitempty"`
	Nonce        uint64            `json:"nonce,omitempty"`
	LockedRate   decimal.Decimal   `json:"locked_rate"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

func toTransactionView(tx domain.Transaction) transactionView {
	return transactionView{
		ID:           tx.ID,
		UserID:       tx.UserID,
		Flow:         tx.Flow,
		Status:       tx.Status,
		Token:        tx.Token,
		AmountSource: tx.AmountSource,
		AmountTarget: tx.AmountTarget,
		Reference:    tx.Reference,
		ChainTxRef:   tx.ChainTxRef,
		Nonce:        tx.Nonce,
		LockedRate:   tx.LockedRate,
		Metadata:     tx.Metadata,
		CreatedAt:    tx.CreatedAt,
		UpdatedAt:    tx.UpdatedAt,
	}
}

func toTransactionViews(txs []domain.Transaction) []transactionView {
	views := make([]transactionView, 0, len(txs))
	for _, tx := range txs {
		views = append(views, toTransactionView(tx))
	}
	return views
}

func parseLimit(r *http.Request) (int, error) {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			return 0, errors.New("invalid limit")
		}
		return value, nil
	}
	return 100, nil
}

// respondAppError maps application sentinels onto HTTP statuses. Anything
// unrecognized is an internal error and the message is not leaked.
func respondAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, application.ErrInvalidAmount),
		errors.Is(err, application.ErrUnknownToken),
		errors.Is(err, application.ErrBelowMinimum):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, application.ErrInsufficientBalance):
		respondError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, application.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, application.ErrNotCancellable),
		errors.Is(err, application.ErrStatusConflict),
		errors.Is(err, application.ErrNotReady),
		errors.Is(err, application.ErrTerminal):
		respondError(w, http.StatusConflict, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
