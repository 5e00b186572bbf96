package validator

import "testing"

type offerRequest struct {
	Kind     string   `json:"kind" validate:"required,operation_kind"`
	Mode     string   `json:"quotation_mode" validate:"required,quotation_mode"`
	Assets   []string `json:"assets" validate:"required,min=1,dive,asset_symbol"`
	Networks []string `json:"networks" validate:"required,min=1,dive,required"`
}

func TestValidateCustomTags(t *testing.T) {
	ok := offerRequest{Kind: "sell", Mode: "manual", Assets: []string{"USDT"}, Networks: []string{"TRC20"}}
	if errs := Validate(ok); errs != nil {
		t.Fatalf("expected valid request, got %v", errs)
	}

	bad := offerRequest{Kind: "lend", Mode: "guess", Assets: []string{"$$"}, Networks: nil}
	errs := Validate(bad)
	for _, field := range []string{"kind", "quotation_mode", "assets[0]", "networks"} {
		if _, found := errs[field]; !found {
			t.Fatalf("expected error for %s, got %v", field, errs)
		}
	}
}
