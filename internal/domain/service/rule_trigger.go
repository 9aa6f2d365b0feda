// Package service defines capability interfaces implemented by the
// infrastructure layer or by external collaborators.
package service

import (
	"context"

	"github.com/google/uuid"
)

// TriggerType describes why automation rules are being evaluated.
type TriggerType string

// TriggerEventImported fires after the engine creates a local event from an
// external import.
const TriggerEventImported TriggerType = "event_imported"

// RuleTrigger is the narrow automation capability the engine depends on. The
// concrete automation module is injected at construction; a nil trigger is a
// no-op. Failures are logged by the caller and never propagated.
type RuleTrigger interface {
	TriggerRules(ctx context.Context, eventID, userID uuid.UUID, trigger TriggerType, ruleIDs []uuid.UUID) error
}
