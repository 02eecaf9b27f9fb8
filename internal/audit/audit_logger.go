package audit

import (
	"database/sql"
	"encoding/json"
	"log"
	"time"
)

type Event struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	TenantID  string    `json:"tenant_id"`
	EntityID  string    `json:"entity_id"` // payment, booking or receivable id
	ActorID   string    `json:"actor_id"`
	Amount    int64     `json:"amount"`
	Status    string    `json:"status"`
	Details   any       `json:"details"`
}

// Logger writes structured audit events to the process log and, for
// settlement outcomes, to the durable audit_logs table.
type Logger struct {
	db *sql.DB
}

func NewLogger(db *sql.DB) *Logger {
	return &Logger{db: db}
}

func (a *Logger) LogPayment(tenantID, paymentID, actorID string, amount int64, status string) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: "PAYMENT",
		TenantID:  tenantID,
		EntityID:  paymentID,
		ActorID:   actorID,
		Amount:    amount,
		Status:    status,
	})
}

func (a *Logger) LogError(tenantID, entityID string, err error) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: "ERROR",
		TenantID:  tenantID,
		EntityID:  entityID,
		Status:    "FAILED",
		Details:   map[string]string{"error": err.Error()},
	})
}

func (a *Logger) LogOperation(tenantID, entityID, operation, details string) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: operation,
		TenantID:  tenantID,
		EntityID:  entityID,
		Status:    "SUCCESS",
		Details:   map[string]string{"details": details},
	})
}

// RecordCheckoutTx files a durable audit row for a settlement outcome
// inside the settlement transaction, so the row exists exactly when
// the outcome is committed.
func (a *Logger) RecordCheckoutTx(tx *sql.Tx, tenantID, bookingID, staffID, outcome string, balanceDue int64) error {
	_, err := tx.Exec(`
		INSERT INTO audit_logs (tenant_id, event_type, entity_id, actor_id, amount, status, created_at)
		VALUES ($1, 'CHECKOUT', $2, $3, $4, $5, $6)`,
		tenantID, bookingID, staffID, balanceDue, outcome, time.Now())
	if err != nil {
		return err
	}

	a.log(Event{
		Timestamp: time.Now(),
		EventType: "CHECKOUT",
		TenantID:  tenantID,
		EntityID:  bookingID,
		ActorID:   staffID,
		Amount:    balanceDue,
		Status:    outcome,
	})
	return nil
}

func (a *Logger) log(event Event) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
