package model

// NodeStats is the per-node counter record returned by a node's MAC at the
// end of a run. Field names follow the statistics document keys.
type NodeStats struct {
	// end-to-end
	AppNumTx              int       `json:"app_num_tx"`
	AppNumEndpointRx      int       `json:"app_num_endpoint_rx"`
	AppNumLost            int       `json:"app_num_lost"`
	AppNumQueueDrops      int       `json:"app_num_queue_drops"`
	AppNumTxLimitDrops    int       `json:"app_num_tx_limit_drops"`
	AppNumRoutingDrops    int       `json:"app_num_routing_drops"`
	AppNumSchedulingDrops int       `json:"app_num_scheduling_drops"`
	AppNumOtherDrops      int       `json:"app_num_other_drops"`
	AppLatencies          []float64 `json:"app_latencies"`
	// StayInQueue counts application packets still queued when the run ended.
	StayInQueue int `json:"stay_in_q"`

	// TSCH protocol
	TSCHEBTx        int `json:"tsch_eb_tx"`
	TSCHEBRx        int `json:"tsch_eb_rx"`
	TSCHKeepaliveTx int `json:"tsch_keepalive_tx"`
	TSCHKeepaliveRx int `json:"tsch_keepalive_rx"`

	// link layer
	MACTx          int `json:"mac_tx"`
	MACTxUnicast   int `json:"mac_tx_unicast"`
	MACAcked       int `json:"mac_acked"`
	MACRx          int `json:"mac_rx"`
	MACRxError     int `json:"mac_rx_error"`
	MACRxCollision int `json:"mac_rx_collision"`
	MACAckError    int `json:"mac_ack_error"`

	// link layer, parent neighbor only
	MACParentTxUnicast int `json:"mac_parent_tx_unicast"`
	MACParentAcked     int `json:"mac_parent_acked"`
	MACParentRx        int `json:"mac_parent_rx"`

	// slot usage
	SlotsRxIdle        int `json:"slots_rx_idle"`
	SlotsRxScanning    int `json:"slots_rx_scanning"`
	SlotsRxPacket      int `json:"slots_rx_packet"`
	SlotsRxPacketTxAck int `json:"slots_rx_packet_tx_ack"`
	SlotsTxPacket      int `json:"slots_tx_packet"`
	SlotsTxPacketRxAck int `json:"slots_tx_packet_rx_ack"`

	// slot cycle: radio time per activity, in microseconds
	SlotCycleTxUS       float64 `json:"slot_cycle_tx_us"`
	SlotCycleRxUS       float64 `json:"slot_cycle_rx_us"`
	SlotCycleScanningUS float64 `json:"slot_cycle_scanning_us"`
	SlotCycleIdleUS     float64 `json:"slot_cycle_idle_us"`
	// RxSlotsUS is the listening time implied by the slots_rx_* counters.
	RxSlotsUS float64 `json:"rx_slots_us"`

	// joining; nil means the node never joined
	TSCHJoinTimeSec      *float64 `json:"tsch_join_time_sec"`
	TSCHNumParentChanges int      `json:"tsch_num_parent_changes"`

	// routing
	RoutingNumTx            int      `json:"routing_num_tx"`
	RoutingNumRx            int      `json:"routing_num_rx"`
	RoutingJoinTimeSec      *float64 `json:"routing_join_time_sec"`
	RoutingNumParentChanges int      `json:"routing_num_parent_changes"`

	// energy, in microcoulombs
	ChargeUC       float64 `json:"charge_uc"`
	ChargeJoinedUC float64 `json:"charge_joined_uc"`

	// LinksCount is the number of active outgoing links at the end of the run.
	LinksCount int `json:"links_count"`
}
