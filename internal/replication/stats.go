package replication

// Stats are cumulative replication counters.
type Stats struct {
	TotalUpdates    int64   `json:"total_updates"`
	FullUpdates     int64   `json:"full_updates"`
	DeltaUpdates    int64   `json:"delta_updates"`
	BytesSent       int64   `json:"bytes_sent"`
	BytesSaved      int64   `json:"bytes_saved"`
	ActiveClients   int     `json:"active_clients"`
	HMACValidations int64   `json:"hmac_validations"`
	HMACFailures    int64   `json:"hmac_failures"`
	DroppedSlots    int64   `json:"dropped_slots"`
	StalePayloads   int64   `json:"stale_payloads"`
	CompressionRate float64 `json:"compression_ratio"`
}

func (s *Stats) recordSend(p Payload, full bool) {
	s.TotalUpdates++
	if full {
		s.FullUpdates++
	} else {
		s.DeltaUpdates++
	}
	s.BytesSent += int64(p.Size())
	if p.IsCompressed() {
		s.BytesSaved += int64(p.OriginalSize - p.Size())
	}
	if total := s.BytesSent + s.BytesSaved; total > 0 {
		s.CompressionRate = float64(s.BytesSent) / float64(total)
	}
}
