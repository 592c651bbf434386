package cli

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadPlan читает план многофазного запроса из YAML (или JSON) файла.
//
// Пример:
//
//	ticket_id: acme/app#100
//	title: checkout rewrite
//	phases:
//	  - title: schema
//	    ticket_id: acme/app#101
//	    content: |
//	      add tables
//	    doc_refs: [docs/schema.md]
//
// Если у фаз не указан number, они нумеруются по порядку с 1.
func LoadPlan(path string) (SubmitParentRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SubmitParentRequest{}, fmt.Errorf("read plan: %w", err)
	}
	return ParsePlan(data)
}

// ParsePlan разбирает план из байт.
func ParsePlan(data []byte) (SubmitParentRequest, error) {
	var plan SubmitParentRequest
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return SubmitParentRequest{}, fmt.Errorf("parse plan: %w", err)
	}
	if len(plan.Phases) == 0 {
		return SubmitParentRequest{}, fmt.Errorf("plan has no phases")
	}

	numbered := false
	for _, ph := range plan.Phases {
		if ph.Number != 0 {
			numbered = true
			break
		}
	}
	if !numbered {
		for i := range plan.Phases {
			plan.Phases[i].Number = i + 1
		}
	}
	return plan, nil
}
