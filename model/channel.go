package model

// ChannelType identifies one of the four satellite link directions.
type ChannelType int

const (
	UnknownChannel ChannelType = iota
	ForwardFeederChannel
	ForwardUserChannel
	ReturnUserChannel
	ReturnFeederChannel
)

func (c ChannelType) String() string {
	switch c {
	case ForwardFeederChannel:
		return "FORWARD_FEEDER_CH"
	case ForwardUserChannel:
		return "FORWARD_USER_CH"
	case ReturnUserChannel:
		return "RETURN_USER_CH"
	case ReturnFeederChannel:
		return "RETURN_FEEDER_CH"
	default:
		return "UNKNOWN_CH"
	}
}

// CarrierBandwidthType selects which notion of carrier bandwidth is wanted.
type CarrierBandwidthType int

const (
	// AllocatedBandwidth includes roll-off and guard spacing.
	AllocatedBandwidth CarrierBandwidthType = iota
	// OccupiedBandwidth includes roll-off but not spacing.
	OccupiedBandwidth
	// EffectiveBandwidth equals the symbol rate.
	EffectiveBandwidth
)
