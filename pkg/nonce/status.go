package nonce

import "time"

// CredentialStatus 单个凭证的发号统计
type CredentialStatus struct {
	Label         string    `json:"label,omitempty"`
	Issued        int64     `json:"issued"`
	LastRequestAt time.Time `json:"last_request_at,omitempty"`
}

// Status 发号器状态快照，用于排查顺序异常
type Status struct {
	QueueDepth    int                         `json:"queue_depth"`
	QueueCapacity int                         `json:"queue_capacity"`
	LastIssued    int64                       `json:"last_issued"`
	Fallbacks     int64                       `json:"fallbacks"`
	Timeouts      int64                       `json:"timeouts"`
	WorkerFaults  int64                       `json:"worker_faults"`
	Credentials   map[string]CredentialStatus `json:"credentials"`
	Recent        []IssuanceRecord            `json:"recent"`
}

// GetStatus 返回状态快照：队列深度、各凭证计数、最近发号记录
func (i *Issuer) GetStatus() Status {
	i.mu.Lock()
	status := Status{
		QueueDepth:    len(i.queue),
		QueueCapacity: cap(i.queue),
		LastIssued:    i.lastIssued,
		Fallbacks:     i.fallbackCount,
		Timeouts:      i.timeoutCount,
		WorkerFaults:  i.workerFaults,
		Credentials:   make(map[string]CredentialStatus),
	}
	for key, count := range i.issuedCount {
		status.Credentials[key] = CredentialStatus{
			Label:         i.labels[key],
			Issued:        count,
			LastRequestAt: i.lastRequest[key],
		}
	}
	// 已登记但尚未发号的凭证也要可见
	for key, label := range i.labels {
		if _, ok := status.Credentials[key]; !ok {
			status.Credentials[key] = CredentialStatus{Label: label}
		}
	}
	i.mu.Unlock()

	status.Recent = i.Recent()
	return status
}

// Recent 返回最近发号记录（时间顺序，最多 RingSize 条）
func (i *Issuer) Recent() []IssuanceRecord {
	i.ringMu.Lock()
	defer i.ringMu.Unlock()

	if len(i.ring) < i.cfg.RingSize {
		out := make([]IssuanceRecord, len(i.ring))
		copy(out, i.ring)
		return out
	}

	// 环形缓冲已写满：ringNext 指向最旧的一条
	out := make([]IssuanceRecord, 0, len(i.ring))
	out = append(out, i.ring[i.ringNext:]...)
	out = append(out, i.ring[:i.ringNext]...)
	return out
}
