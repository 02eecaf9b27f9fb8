package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/innkeep/backend/internal/models"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"
)

const reconciliationExportQueue = "reconciliation_export"

// ReconciliationService files one unmatched record per eligible
// payment, to be matched later against the provider's settlement
// statement. Matching itself happens outside this system; records are
// exported to the settlement counterparty as pacs.008 messages.
type ReconciliationService struct {
	db    *sql.DB
	redis *redis.Client
}

func NewReconciliationService(db *sql.DB, redisClient *redis.Client) *ReconciliationService {
	return &ReconciliationService{db: db, redis: redisClient}
}

// File creates the unmatched record for a payment. Filing is
// idempotent per payment: a second call for the same payment id is a
// no-op.
func (s *ReconciliationService) File(ctx context.Context, payment *models.Payment) error {
	providerRef := payment.TransactionRef
	if payment.ProviderID != nil {
		providerRef = fmt.Sprintf("%s:%s", *payment.ProviderID, payment.TransactionRef)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reconciliation_records (id, tenant_id, source_system, provider_ref, amount, status, payment_id, created_at)
		VALUES ($1, $2, $3, $4, $5, 'unmatched', $6, $7)
		ON CONFLICT (payment_id) DO NOTHING`,
		uuid.New().String(), payment.TenantID, "ledger", providerRef,
		payment.Amount, payment.ID, time.Now())
	return err
}

// ExportUnmatched renders each unmatched record as a pacs.008 credit
// transfer message and pushes the XML onto the settlement export
// queue. Records stay unmatched; the matching system flips them.
func (s *ReconciliationService) ExportUnmatched(ctx context.Context, tenantID, currency string) (int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, source_system, provider_ref, amount, status, payment_id, created_at
		FROM reconciliation_records
		WHERE tenant_id = $1 AND status = 'unmatched'
		ORDER BY created_at ASC`, tenantID)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	records := []models.ReconciliationRecord{}
	for rows.Next() {
		var rec models.ReconciliationRecord
		if err := rows.Scan(&rec.ID, &rec.TenantID, &rec.SourceSystem, &rec.ProviderRef,
			&rec.Amount, &rec.Status, &rec.PaymentID, &rec.CreatedAt); err != nil {
			return 0, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	exported := 0
	for _, rec := range records {
		doc, err := s.buildPacs008(&rec, currency)
		if err != nil {
			log.Printf("[RECONCILIATION] Failed to build pacs.008 for record %s: %v", rec.ID, err)
			continue
		}

		xmlData, err := xml.MarshalIndent(doc, "", "  ")
		if err != nil {
			log.Printf("[RECONCILIATION] Failed to marshal record %s: %v", rec.ID, err)
			continue
		}

		if s.redis != nil {
			if err := s.redis.RPush(ctx, reconciliationExportQueue, xmlData).Err(); err != nil {
				log.Printf("[RECONCILIATION] Failed to enqueue record %s: %v", rec.ID, err)
				continue
			}
		}
		exported++
	}

	return exported, nil
}

// buildPacs008 creates a pacs.008 FIToFICustomerCreditTransfer message
// describing one unmatched payment for the settlement counterparty.
func (s *ReconciliationService) buildPacs008(rec *models.ReconciliationRecord, currency string) (*pacs_v08.FIToFICustomerCreditTransferV08, error) {
	msgId := uuid.New().String()
	creDtTm := time.Now()
	settlementDate := time.Now()
	amount := float64(rec.Amount) / 100

	doc := &pacs_v08.FIToFICustomerCreditTransferV08{
		GrpHdr: pacs_v08.GroupHeader93{
			MsgId:   common.Max35Text(msgId),
			CreDtTm: common.ISODateTime(creDtTm),
			NbOfTxs: "1",
			TtlIntrBkSttlmAmt: &pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode(currency),
				Value: amount,
			},
			IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
			SttlmInf: pacs_v08.SettlementInstruction7{
				SttlmMtd: "CLRG", // Clearing
			},
		},
		CdtTrfTxInf: []pacs_v08.CreditTransferTransaction39{
			{
				PmtId: pacs_v08.PaymentIdentification7{
					InstrId:    &[]common.Max35Text{common.Max35Text(rec.ID)}[0],
					EndToEndId: common.Max35Text(rec.ProviderRef),
					TxId:       &[]common.Max35Text{common.Max35Text(rec.PaymentID)}[0],
				},
				IntrBkSttlmAmt: pacs_v08.ActiveCurrencyAndAmount{
					Ccy:   common.ActiveCurrencyCode(currency),
					Value: amount,
				},
				IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
				ChrgBr:        "SLEV",
				DbtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier("INNKEEP")}[0],
					},
				},
				Dbtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(rec.SourceSystem)}[0],
				},
				CdtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						ClrSysMmbId: &pacs_v08.ClearingSystemMemberIdentification2{
							MmbId: common.Max35Text(rec.TenantID),
						},
					},
				},
				Cdtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(rec.ProviderRef)}[0],
				},
			},
		},
	}

	return doc, nil
}

// ExportReconciliation pushes unmatched records to the settlement queue
// @Summary Export unmatched reconciliation records
// @Description Render unmatched records as pacs.008 and enqueue them for the settlement counterparty
// @Tags reconciliation
// @Produce json
// @Param tenantId query string true "Tenant ID"
// @Success 200 {object} object{success=bool,exported=int}
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /reconciliation/export [post]
func (s *ReconciliationService) ExportReconciliation(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenantId")
	if tenantID == "" {
		SendErrorResponse(w, "tenantId is required", CodeValidation, http.StatusBadRequest, nil)
		return
	}

	currency := r.URL.Query().Get("currency")
	if currency == "" {
		currency = "USD"
	}

	exported, err := s.ExportUnmatched(r.Context(), tenantID, currency)
	if err != nil {
		log.Printf("[RECONCILIATION] Export failed for tenant %s: %v", tenantID, err)
		SendErrorResponse(w, "Failed to export reconciliation records", "", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":  true,
		"exported": exported,
	})
}
