package server

// PowerManager is told when a charge point has booted and may receive its default limits
type PowerManager interface {
	OnChargePointBoot(chargePointId string)
}
