package operation

import (
	"time"

	"github.com/shopspring/decimal"
)

// CreateRequest is the body of POST /operations
type CreateRequest struct {
	ScopeID       int64           `json:"scope_id"`
	Kind          string          `json:"kind" validate:"required,operation_kind"`
	Assets        []string        `json:"assets" validate:"required,min=1,max=10,dive,asset_symbol"`
	Networks      []string        `json:"networks" validate:"required,min=1,max=10,dive,required,max=32"`
	Amount        decimal.Decimal `json:"amount"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	QuotationMode string          `json:"quotation_mode" validate:"required,quotation_mode"`
	TTL           string          `json:"ttl" validate:"omitempty"`
}

func (r *CreateRequest) ToInput(creatorID int64) (CreateInput, error) {
	in := CreateInput{
		CreatorID:     creatorID,
		ScopeID:       r.ScopeID,
		Kind:          Kind(r.Kind),
		Assets:        r.Assets,
		Networks:      r.Networks,
		Amount:        r.Amount,
		UnitPrice:     r.UnitPrice,
		QuotationMode: QuotationMode(r.QuotationMode),
	}
	if r.TTL != "" {
		ttl, err := time.ParseDuration(r.TTL)
		if err != nil {
			return in, ErrInvalidInput
		}
		in.TTL = ttl
	}
	return in, nil
}

// PublishRequest is the body of POST /operations/{id}/publish
type PublishRequest struct {
	ScopeID int64 `json:"scope_id" validate:"required"`
}

// OperationResponse for API response
type OperationResponse struct {
	ID            string         `json:"id"`
	CreatorID     int64          `json:"creator_id"`
	AcceptorID    *int64         `json:"acceptor_id,omitempty"`
	ScopeID       *int64         `json:"scope_id,omitempty"`
	Kind          Kind           `json:"kind"`
	Assets        []string       `json:"assets"`
	Networks      []string       `json:"networks"`
	Amount        string         `json:"amount"`
	UnitPrice     string         `json:"unit_price"`
	Total         string         `json:"total"`
	QuotationMode QuotationMode  `json:"quotation_mode"`
	Status        Status         `json:"status"`
	MessageRef    string         `json:"message_ref,omitempty"`
	ExpiresAt     string         `json:"expires_at"`
	CreatedAt     string         `json:"created_at"`
	TransferOrder *TransferOrder `json:"transfer_order,omitempty"`
}

func (o *Operation) ToResponse() *OperationResponse {
	resp := &OperationResponse{
		ID:            o.ID.String(),
		CreatorID:     o.CreatorID,
		Kind:          o.Kind,
		Assets:        o.Assets,
		Networks:      o.Networks,
		Amount:        o.Amount.String(),
		UnitPrice:     o.UnitPrice.String(),
		Total:         o.Total().String(),
		QuotationMode: o.QuotationMode,
		Status:        o.Status,
		MessageRef:    o.MessageRef.String,
		ExpiresAt:     o.ExpiresAt.Format(time.RFC3339),
		CreatedAt:     o.CreatedAt.Format(time.RFC3339),
	}
	if o.AcceptorID.Valid {
		id := o.AcceptorID.Int64
		resp.AcceptorID = &id
	}
	if o.ScopeID.Valid {
		id := o.ScopeID.Int64
		resp.ScopeID = &id
	}
	return resp
}

func toResponses(ops []Operation) []*OperationResponse {
	out := make([]*OperationResponse, 0, len(ops))
	for i := range ops {
		out = append(out, ops[i].ToResponse())
	}
	return out
}
