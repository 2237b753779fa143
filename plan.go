package appkit

// PlanTier is a principal's subscription level.
type PlanTier string

const (
	// PlanFree covers text generation only.
	PlanFree PlanTier = "free"
	// PlanCreator unlocks image and video generation.
	PlanCreator PlanTier = "creator"
	// PlanStudio is the top tier (priority queues, bulk scheduling).
	PlanStudio PlanTier = "studio"
)

// Job categories a plan may gate on.
const (
	JobCategoryText  = "text"
	JobCategoryImage = "image"
	JobCategoryVideo = "video"
)

// IsValid checks if the tier is one of the predefined plans.
func (p PlanTier) IsValid() bool {
	switch p {
	case PlanFree, PlanCreator, PlanStudio:
		return true
	default:
		return false
	}
}

// IsAtLeast checks if this plan meets the minimum required tier.
func (p PlanTier) IsAtLeast(min PlanTier) bool {
	planHierarchy := map[PlanTier]int{
		PlanFree:    0,
		PlanCreator: 1,
		PlanStudio:  2,
	}

	currentLevel, exists := planHierarchy[p]
	if !exists {
		return false
	}

	minLevel, exists := planHierarchy[min]
	if !exists {
		return false
	}

	return currentLevel >= minLevel
}

// AllowsCategory checks whether the plan may submit jobs of the given
// category. Unknown categories are allowed; gating is opt-in per category.
func (p PlanTier) AllowsCategory(category string) bool {
	min, gated := categoryMinimumPlan[category]
	if !gated {
		return true
	}
	return p.IsAtLeast(min)
}

var categoryMinimumPlan = map[string]PlanTier{
	JobCategoryImage: PlanCreator,
	JobCategoryVideo: PlanCreator,
}

// GetAllPlans returns all predefined plans in hierarchical order
func GetAllPlans() []PlanTier {
	return []PlanTier{
		PlanFree,
		PlanCreator,
		PlanStudio,
	}
}

// ParsePlan safely parses a string into a PlanTier type
func ParsePlan(planStr string) (PlanTier, bool) {
	plan := PlanTier(planStr)
	return plan, plan.IsValid()
}
