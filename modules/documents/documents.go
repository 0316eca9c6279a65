// Package documents implements the built-in "document_validation" rule.
package documents

import (
	"context"

	"github.com/gxo-labs/ruleflow/internal/module"
	"github.com/gxo-labs/ruleflow/internal/paramutil"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/rule"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/state"
)

// Context keys read by the rule.
const (
	KeyCustomerID  = "customerId"
	KeyLoanPurpose = "loanPurpose"
	KeyDocuments   = "documents"
)

// DefaultPurpose applies to loan purposes without their own checklist.
const DefaultPurpose = "PERSONAL"

// Required lists the documents each loan purpose needs.
var Required = map[string][]string{
	"PERSONAL": {"ID_CARD", "PROOF_OF_INCOME", "BANK_STATEMENT"},
	"BUSINESS": {"ID_CARD", "BUSINESS_LICENSE", "FINANCIAL_STATEMENT", "TAX_RETURN"},
	"HOME":     {"ID_CARD", "PROOF_OF_INCOME", "PROPERTY_DOCUMENTS", "DOWN_PAYMENT_PROOF"},
	"CAR":      {"ID_CARD", "PROOF_OF_INCOME", "VEHICLE_DOCUMENTS", "INSURANCE_DOCUMENTS"},
}

func init() {
	module.Register(rule.KindDocumentValidation, NewDocumentRule)
}

type DocumentRule struct {
	desc rule.Descriptor
}

func NewDocumentRule(desc rule.Descriptor, _ rule.Dependencies) (rule.Variant, error) {
	return &DocumentRule{desc: desc}, nil
}

func (r *DocumentRule) Kind() string { return rule.KindDocumentValidation }

func (r *DocumentRule) ValidateInput(input state.Reader) error {
	keys := []string{KeyCustomerID, KeyLoanPurpose, KeyDocuments}
	return paramutil.RequireKeys(input, append(keys, r.desc.RequiredKeys...)...)
}

// Execute compares the provided documents with the checklist of the loan
// purpose. The loan is approved when nothing is missing.
func (r *DocumentRule) Execute(_ context.Context, input state.Reader) (interface{}, error) {
	purpose, err := paramutil.String(input, KeyLoanPurpose)
	if err != nil {
		return nil, err
	}
	provided, err := paramutil.Strings(input, KeyDocuments)
	if err != nil {
		return nil, err
	}

	required, ok := Required[purpose]
	if !ok {
		required = Required[DefaultPurpose]
	}
	have := make(map[string]struct{}, len(provided))
	for _, doc := range provided {
		have[doc] = struct{}{}
	}
	missing := []string{}
	for _, doc := range required {
		if _, found := have[doc]; !found {
			missing = append(missing, doc)
		}
	}

	return map[string]interface{}{
		"approved":          len(missing) == 0,
		"requiredDocuments": append([]string(nil), required...),
		"providedDocuments": provided,
		"missingDocuments":  missing,
	}, nil
}

func (r *DocumentRule) Fallback(_ context.Context, _ state.Reader) (interface{}, error) {
	return map[string]interface{}{
		"approved":          true,
		"requiredDocuments": []string{},
		"providedDocuments": []string{},
		"missingDocuments":  []string{},
		"isFallback":        true,
	}, nil
}
