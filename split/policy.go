package split

// Decision is the outcome of classifying a transfer.
type Decision struct {
	Split  bool
	Group  LaneGroupID
	Reason string
}

// Stable decision reasons, recorded in dispatch traces.
const (
	ReasonSplit            = "split"
	ReasonDisabled         = "split disabled"
	ReasonDeviceToDevice   = "device-to-device transfers never split"
	ReasonHostToHost       = "host-to-host transfers have no lane group"
	ReasonBelowThreshold   = "below minimum split size"
	ReasonHostPointer      = "host pointer split disabled"
	ReasonGroupUnavailable = "lane group has fewer than two lanes"
	ReasonUnpartitionable  = "too small to give every lane a chunk"
)

// SplitPolicy decides whether a transfer is split and on which lane group.
// It reads its configuration and the registry; it never mutates either.
type SplitPolicy struct {
	cfg      Config
	registry *LaneGroupRegistry
}

// NewSplitPolicy binds a policy to a configuration and a registry.
func NewSplitPolicy(cfg Config, registry *LaneGroupRegistry) *SplitPolicy {
	return &SplitPolicy{cfg: cfg, registry: registry}
}

// Classify decides how a transfer of size bytes in direction dir is issued.
func (p *SplitPolicy) Classify(dir DirectionClass, size uint64) Decision {
	return ClassifyTransfer(dir, size, p.cfg, p.registry)
}

// IsSplitEligible reports whether Classify would split.
func (p *SplitPolicy) IsSplitEligible(dir DirectionClass, size uint64) bool {
	return p.Classify(dir, size).Split
}

// ClassifyTransfer is the pure policy function behind SplitPolicy.
func ClassifyTransfer(dir DirectionClass, size uint64, cfg Config, registry *LaneGroupRegistry) Decision {
	noSplit := func(reason string) Decision {
		return Decision{Split: false, Group: GroupNone, Reason: reason}
	}
	switch {
	case !cfg.Enabled:
		return noSplit(ReasonDisabled)
	case dir == DeviceToDevice:
		return noSplit(ReasonDeviceToDevice)
	case dir == HostToHost:
		return noSplit(ReasonHostToHost)
	case size < cfg.MinimumSizeFor(dir):
		return noSplit(ReasonBelowThreshold)
	case dir.NonUSMHost() && !cfg.HostPointerSplitEnabled:
		return noSplit(ReasonHostPointer)
	}

	group := GroupRead
	if dir.ToDevice() {
		group = GroupWrite
	}
	if registry == nil || len(registry.LanesFor(group)) < 2 {
		return noSplit(ReasonGroupUnavailable)
	}
	return Decision{Split: true, Group: group, Reason: ReasonSplit}
}
