package service

import (
	"context"
	"sort"

	"github.com/pesio-ai/be-hr-workflows/internal/errors"
	"github.com/pesio-ai/be-hr-workflows/internal/logger"
	"github.com/pesio-ai/be-hr-workflows/internal/repository"
)

// ChainResolver selects the ordered approval chain for a request and resolves
// individual approver rules to actor ids via the directory.
type ChainResolver struct {
	configStore ChainConfigStore
	directory   DirectoryClientInterface
	log         *logger.Logger
}

// NewChainResolver creates a new ChainResolver.
func NewChainResolver(configStore ChainConfigStore, directory DirectoryClientInterface, log *logger.Logger) *ChainResolver {
	return &ChainResolver{configStore: configStore, directory: directory, log: log}
}

// Resolve returns the configured chain for (type, amount, department),
// ordered by sequence. Priority, first match wins:
//
//  1. amount supplied → the chain whose amount_threshold is the greatest
//     threshold <= amount;
//  2. department supplied → the chain scoped to that department;
//  3. otherwise → the global chain (no threshold, no department).
//
// Returns an empty slice when nothing is configured; the coordinator then
// falls back to a single synthetic DIRECT_MANAGER level.
func (r *ChainResolver) Resolve(
	ctx context.Context,
	approvalType repository.ApprovalType,
	amount *int64,
	departmentID *string,
) ([]*repository.ApprovalChainConfig, error) {
	configs, err := r.configStore.ListActiveByType(ctx, approvalType)
	if err != nil {
		return nil, err
	}

	if amount != nil {
		if chain := amountChain(configs, *amount); len(chain) > 0 {
			return chain, nil
		}
	}
	if departmentID != nil {
		if chain := departmentChain(configs, *departmentID); len(chain) > 0 {
			return chain, nil
		}
	}
	return globalChain(configs), nil
}

// amountChain picks the chain with the greatest amount_threshold <= amount.
func amountChain(configs []*repository.ApprovalChainConfig, amount int64) []*repository.ApprovalChainConfig {
	var bestThreshold int64 = -1
	for _, cfg := range configs {
		if cfg.AmountThreshold == nil {
			continue
		}
		if *cfg.AmountThreshold <= amount && *cfg.AmountThreshold > bestThreshold {
			bestThreshold = *cfg.AmountThreshold
		}
	}
	if bestThreshold < 0 {
		return nil
	}

	var chain []*repository.ApprovalChainConfig
	for _, cfg := range configs {
		if cfg.AmountThreshold != nil && *cfg.AmountThreshold == bestThreshold {
			chain = append(chain, cfg)
		}
	}
	sortBySequence(chain)
	return chain
}

func departmentChain(configs []*repository.ApprovalChainConfig, departmentID string) []*repository.ApprovalChainConfig {
	var chain []*repository.ApprovalChainConfig
	for _, cfg := range configs {
		if cfg.AmountThreshold == nil && cfg.DepartmentID != nil && *cfg.DepartmentID == departmentID {
			chain = append(chain, cfg)
		}
	}
	sortBySequence(chain)
	return chain
}

func globalChain(configs []*repository.ApprovalChainConfig) []*repository.ApprovalChainConfig {
	var chain []*repository.ApprovalChainConfig
	for _, cfg := range configs {
		if cfg.AmountThreshold == nil && cfg.DepartmentID == nil {
			chain = append(chain, cfg)
		}
	}
	sortBySequence(chain)
	return chain
}

func sortBySequence(chain []*repository.ApprovalChainConfig) {
	sort.SliceStable(chain, func(i, j int) bool {
		return chain[i].SequenceOrder < chain[j].SequenceOrder
	})
}

// DetermineApprover resolves one chain level to an actor id.
//
//   - direct_manager: the requestor's manager.
//   - department_head: the head of departmentID, falling back to the
//     requestor's manager when the department has no head.
//   - specific_employee: the configured actor, provided it exists.
//   - hr / finance / executive: there is no role directory yet; returns an
//     UNIMPLEMENTED error so the caller's manager fallback is an explicit,
//     observable decision instead of a silent alias of direct_manager.
//
// An empty actor id with a nil error means the rule resolved to nobody
// (e.g. the requestor has no manager).
func (r *ChainResolver) DetermineApprover(
	ctx context.Context,
	level repository.ChainLevel,
	requestorID string,
	departmentID *string,
) (string, error) {
	switch level.ApproverType {
	case repository.ApproverTypeDirectManager:
		return r.managerOf(ctx, requestorID)

	case repository.ApproverTypeDepartmentHead:
		if departmentID != nil {
			head, err := r.directory.GetDepartmentHead(ctx, *departmentID)
			if err != nil {
				return "", err
			}
			if head != nil && *head != "" {
				return *head, nil
			}
		}
		// No department or headless department: the requestor's manager acts.
		return r.managerOf(ctx, requestorID)

	case repository.ApproverTypeSpecificEmployee:
		if level.SpecificApproverID == nil || *level.SpecificApproverID == "" {
			return "", nil
		}
		exists, err := r.directory.ActorExists(ctx, *level.SpecificApproverID)
		if err != nil {
			return "", err
		}
		if !exists {
			r.log.Warn().
				Str("approver_id", *level.SpecificApproverID).
				Msg("Configured specific approver does not exist")
			return "", nil
		}
		return *level.SpecificApproverID, nil

	case repository.ApproverTypeHR, repository.ApproverTypeFinance, repository.ApproverTypeExecutive:
		return "", errors.Newf(errors.ErrCodeUnimplemented,
			"no role directory for approver type %s", level.ApproverType)

	default:
		return "", errors.Newf(errors.ErrCodeInvalidInput,
			"unknown approver type %q", level.ApproverType)
	}
}

func (r *ChainResolver) managerOf(ctx context.Context, actorID string) (string, error) {
	manager, err := r.directory.GetManager(ctx, actorID)
	if err != nil {
		return "", err
	}
	if manager == nil {
		return "", nil
	}
	return *manager, nil
}
