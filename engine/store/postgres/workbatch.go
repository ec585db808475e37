package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"corework/engine/ids"
	"corework/engine/store"
)

// ProcessWorkBatch is the single atomic operation described by the durable
// store's contract: within one transaction it applies every completion,
// failure, lease renewal, and new row in req, reclaims stale partitions,
// claims fresh partitions for the caller, and returns newly leased work.
// Row claiming uses SELECT ... FOR UPDATE SKIP LOCKED so two instances
// calling concurrently never double-claim a row, mirroring the lease-claim
// style of the work-leasing reference adapter this package is grounded on.
func (r *Repository) ProcessWorkBatch(ctx context.Context, req store.Request) (store.Batch, error) {
	var batch store.Batch
	now := time.Now().UTC()
	instanceID := req.Identity.InstanceID.String()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := upsertInstance(tx, req.Identity, now); err != nil {
			return err
		}
		if err := applyOutboxCompletions(tx, req.OutboxCompletions, now); err != nil {
			return err
		}
		if err := applyOutboxFailures(tx, req.OutboxFailures, now); err != nil {
			return err
		}
		if err := applyInboxCompletions(tx, req.InboxCompletions, now); err != nil {
			return err
		}
		if err := applyInboxFailures(tx, req.InboxFailures, now); err != nil {
			return err
		}
		// Receptor completions/failures land on the same inbox rows the
		// consumer inserted; the receptor stage is distinguished only by
		// which status bits it contributes (EventStored rather than
		// Stored), so it shares the inbox application path.
		if err := applyInboxCompletions(tx, req.ReceptorCompletions, now); err != nil {
			return err
		}
		if err := applyInboxFailures(tx, req.ReceptorFailures, now); err != nil {
			return err
		}
		if err := applyPerspectiveCompletions(tx, req.PerspectiveCompletions, now); err != nil {
			return err
		}
		if err := applyPerspectiveFailures(tx, req.PerspectiveFailures, now); err != nil {
			return err
		}
		if err := renewLeases(tx, "engine_outbox", req.RenewOutboxLeaseIDs, instanceID, now, req.LeaseSeconds); err != nil {
			return err
		}
		if err := renewLeases(tx, "engine_inbox", req.RenewInboxLeaseIDs, instanceID, now, req.LeaseSeconds); err != nil {
			return err
		}
		if err := insertNewOutbox(tx, req.NewOutbox, req.PartitionCount, now); err != nil {
			return err
		}
		if err := insertNewInbox(tx, req.NewInbox, req.PartitionCount, now); err != nil {
			return err
		}
		if err := insertNewPerspectives(tx, req.NewPerspectives, req.PartitionCount, now); err != nil {
			return err
		}
		if err := reclaimStalePartitions(tx, now, req.StaleThresholdSeconds); err != nil {
			return err
		}
		held, err := claimPartitionsForSelf(tx, instanceID, now, req.MaxPartitionsPerInstance)
		if err != nil {
			return err
		}
		outboxWork, err := claimOutboxWork(tx, held, instanceID, now, req.LeaseSeconds, req.BatchSize)
		if err != nil {
			return err
		}
		inboxWork, err := claimInboxWork(tx, held, instanceID, now, req.LeaseSeconds, req.BatchSize)
		if err != nil {
			return err
		}
		perspectiveWork, err := claimPerspectiveWork(tx, held, instanceID, now, req.LeaseSeconds, req.BatchSize)
		if err != nil {
			return err
		}
		batch = store.Batch{OutboxWork: outboxWork, InboxWork: inboxWork, PerspectiveWork: perspectiveWork}
		return nil
	})
	if err != nil {
		return store.Batch{}, err
	}
	return batch, nil
}

func upsertInstance(tx *gorm.DB, identity store.Identity, now time.Time) error {
	row := serviceInstanceModel{
		InstanceID:      identity.InstanceID.String(),
		ServiceName:     identity.ServiceName,
		HostName:        identity.HostName,
		ProcessID:       identity.ProcessID,
		StartedAt:       now,
		LastHeartbeatAt: now,
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "instance_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_heartbeat_at"}),
	}).Create(&row).Error
}

func applyOutboxCompletions(tx *gorm.DB, completions []store.Completion, now time.Time) error {
	for _, c := range completions {
		var row outboxModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("message_id = ?", c.MessageID.String()).
			First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return err
		}
		merged := store.StatusFlags(row.StatusFlags).Set(c.NewStatus)
		updates := map[string]any{
			"status_flags": uint8(merged),
			"processed_at": now,
		}
		if merged.TerminalOutbox() {
			updates["instance_id"] = nil
			updates["lease_expiry"] = nil
		}
		if err := tx.Model(&outboxModel{}).Where("message_id = ?", row.MessageID).Updates(updates).Error; err != nil {
			return err
		}
	}
	return nil
}

func applyOutboxFailures(tx *gorm.DB, failures []store.Failure, now time.Time) error {
	for _, f := range failures {
		updates := map[string]any{
			"error":          f.Error,
			"failure_reason": f.FailureReason,
			"attempts":       gorm.Expr("attempts + 1"),
			"status_flags":   gorm.Expr("status_flags | ?", uint8(store.StatusFailed)),
		}
		if f.Terminal {
			updates["instance_id"] = nil
			updates["lease_expiry"] = nil
		}
		if err := tx.Model(&outboxModel{}).Where("message_id = ?", f.MessageID.String()).Updates(updates).Error; err != nil {
			return err
		}
	}
	return nil
}

func applyInboxCompletions(tx *gorm.DB, completions []store.Completion, now time.Time) error {
	for _, c := range completions {
		var row inboxModel
		q := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("message_id = ?", c.MessageID.String())
		if c.HandlerName != "" {
			q = q.Where("handler_name = ?", c.HandlerName)
		}
		if err := q.First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return err
		}
		merged := store.StatusFlags(row.StatusFlags).Set(c.NewStatus)
		updates := map[string]any{
			"status_flags": uint8(merged),
			"processed_at": now,
		}
		if merged.TerminalInbox() {
			updates["instance_id"] = nil
			updates["lease_expiry"] = nil
		}
		if err := tx.Model(&inboxModel{}).
			Where("message_id = ? AND handler_name = ?", row.MessageID, row.HandlerName).
			Updates(updates).Error; err != nil {
			return err
		}
	}
	return nil
}

func applyInboxFailures(tx *gorm.DB, failures []store.Failure, now time.Time) error {
	for _, f := range failures {
		updates := map[string]any{
			"error":          f.Error,
			"failure_reason": f.FailureReason,
			"attempts":       gorm.Expr("attempts + 1"),
			"status_flags":   gorm.Expr("status_flags | ?", uint8(store.StatusFailed)),
		}
		if f.Terminal {
			updates["instance_id"] = nil
			updates["lease_expiry"] = nil
		}
		q := tx.Model(&inboxModel{}).Where("message_id = ?", f.MessageID.String())
		if f.HandlerName != "" {
			q = q.Where("handler_name = ?", f.HandlerName)
		}
		if err := q.Updates(updates).Error; err != nil {
			return err
		}
	}
	return nil
}

// applyPerspectiveCompletions advances each checkpoint's cursor to the new
// LastProcessedEventID (c.MessageID) and marks it OK. Checkpoints are keyed
// by (StreamID, PerspectiveName), not by MessageID, since the cursor value
// itself is what is changing.
func applyPerspectiveCompletions(tx *gorm.DB, completions []store.Completion, now time.Time) error {
	for _, c := range completions {
		updates := map[string]any{
			"status":                  string(store.PerspectiveStatusOK),
			"processed_at":            now,
			"instance_id":             nil,
			"lease_expiry":            nil,
			"last_processed_event_id": c.MessageID.String(),
		}
		if err := tx.Model(&perspectiveCheckpointModel{}).
			Where("stream_id = ? AND perspective_name = ?", c.StreamID.String(), c.HandlerName).
			Updates(updates).Error; err != nil {
			return err
		}
	}
	return nil
}

// applyPerspectiveFailures mirrors applyPerspectiveCompletions but leaves
// LastProcessedEventID at whatever it was, recording only the error and
// (for partial progress) whatever events were applied before the handler
// raised are reflected by the caller queuing a completion for that partial
// span separately.
func applyPerspectiveFailures(tx *gorm.DB, failures []store.Failure, now time.Time) error {
	for _, f := range failures {
		updates := map[string]any{
			"status": string(store.PerspectiveStatusFailed),
			"error":  f.Error,
		}
		if f.Terminal {
			updates["instance_id"] = nil
			updates["lease_expiry"] = nil
		}
		if err := tx.Model(&perspectiveCheckpointModel{}).
			Where("stream_id = ? AND perspective_name = ?", f.StreamID.String(), f.HandlerName).
			Updates(updates).Error; err != nil {
			return err
		}
	}
	return nil
}

func renewLeases(tx *gorm.DB, table string, leaseIDs []ids.ID, instanceID string, now time.Time, leaseSeconds int) error {
	if len(leaseIDs) == 0 {
		return nil
	}
	idStrs := make([]string, 0, len(leaseIDs))
	for _, id := range leaseIDs {
		idStrs = append(idStrs, id.String())
	}
	expiry := now.Add(time.Duration(leaseSeconds) * time.Second)
	return tx.Table(table).
		Where("message_id IN ? AND instance_id = ?", idStrs, instanceID).
		Update("lease_expiry", expiry).Error
}

// insertNewOutbox inserts each pending outbox row and, for rows that are
// genuinely new (not a retried duplicate insert), appends the same event
// to the stream's event log in the same transaction: the outbox row and
// its event-log entry are produced atomically, so perspective replay
// (engine/workers/perspective.go) always has something to read once a
// domain event has actually been queued for publish. A row whose insert
// affected zero rows (MessageID already present, e.g. a retried
// ProcessWorkBatch call) is skipped to avoid double-appending the event.
func insertNewOutbox(tx *gorm.DB, rows []store.NewOutboxRow, partitionCount int, now time.Time) error {
	for _, r := range rows {
		model := outboxModel{
			MessageID:       r.MessageID.String(),
			Destination:     r.Destination,
			MessageType:     r.MessageType,
			Payload:         r.Payload,
			Metadata:        metadataToJSON(r.Metadata),
			Scope:           r.Scope,
			CreatedAt:       now,
			StreamID:        r.StreamID.String(),
			PartitionNumber: r.StreamID.HashPartition(partitionCount),
			StatusFlags:     uint8(store.StatusStored),
			ScheduledFor:    r.ScheduledFor,
		}
		create := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&model)
		if create.Error != nil {
			return create.Error
		}
		if create.RowsAffected == 0 || r.StreamID.IsNil() {
			continue
		}
		if _, err := appendEventTx(tx, r.StreamID.String(), r.MessageID.String(), r.MessageType, r.Payload, now); err != nil {
			return err
		}
	}
	return nil
}

// insertNewPerspectives ensures a checkpoint row exists for each
// (StreamID, PerspectiveName) pair a produced event associates with (per
// dispatch.Registry.PerspectivesFor, resolved by the coordinator before
// queuing). The insert is DoNothing on conflict: a checkpoint already
// seeded for the pair keeps its existing cursor and status untouched.
func insertNewPerspectives(tx *gorm.DB, rows []store.NewPerspectiveRow, partitionCount int, now time.Time) error {
	for _, r := range rows {
		model := perspectiveCheckpointModel{
			StreamID:        r.StreamID.String(),
			PerspectiveName: r.PerspectiveName,
			Status:          string(store.PerspectiveStatusPending),
			PartitionNumber: r.StreamID.HashPartition(partitionCount),
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&model).Error; err != nil {
			return err
		}
	}
	return nil
}

func insertNewInbox(tx *gorm.DB, rows []store.NewInboxRow, partitionCount int, now time.Time) error {
	for _, r := range rows {
		model := inboxModel{
			MessageID:       r.MessageID.String(),
			HandlerName:     r.HandlerName,
			MessageType:     r.MessageType,
			Payload:         r.Payload,
			Metadata:        metadataToJSON(r.Metadata),
			CreatedAt:       now,
			StreamID:        r.StreamID.String(),
			PartitionNumber: r.StreamID.HashPartition(partitionCount),
			StatusFlags:     uint8(store.StatusStored),
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&model).Error; err != nil {
			return err
		}
	}
	return nil
}

func reclaimStalePartitions(tx *gorm.DB, now time.Time, staleThresholdSeconds int) error {
	threshold := now.Add(-time.Duration(staleThresholdSeconds) * time.Second)
	return tx.Where(
		"last_heartbeat < ? OR instance_id IN (SELECT instance_id FROM engine_service_instance WHERE last_heartbeat_at < ?)",
		threshold, threshold,
	).Delete(&partitionAssignmentModel{}).Error
}

// claimPartitionsForSelf assigns up to maxPerInstance additional partitions
// to instanceID, preferring the lowest-numbered unassigned partitions that
// have at least one claimable row, and returns the full set this instance
// now holds.
func claimPartitionsForSelf(tx *gorm.DB, instanceID string, now time.Time, maxPerInstance int) ([]int, error) {
	var held []int
	if err := tx.Model(&partitionAssignmentModel{}).
		Where("instance_id = ?", instanceID).
		Pluck("partition_number", &held).Error; err != nil {
		return nil, err
	}
	if maxPerInstance <= 0 {
		return held, nil
	}
	remaining := maxPerInstance - len(held)
	if remaining <= 0 {
		return held, nil
	}

	var candidates []int
	err := tx.Raw(`
		SELECT DISTINCT partition_number FROM (
			SELECT partition_number FROM engine_outbox
			WHERE partition_number NOT IN (SELECT partition_number FROM engine_partition_assignment)
			  AND status_flags & ? != 0 AND status_flags & ? = 0
			  AND (instance_id IS NULL OR lease_expiry < ?)
			  AND (scheduled_for IS NULL OR scheduled_for <= ?)
			UNION
			SELECT partition_number FROM engine_inbox
			WHERE partition_number NOT IN (SELECT partition_number FROM engine_partition_assignment)
			  AND status_flags & ? != 0 AND status_flags & ? = 0
			  AND (instance_id IS NULL OR lease_expiry < ?)
			  AND (scheduled_for IS NULL OR scheduled_for <= ?)
		) candidates
		ORDER BY partition_number ASC
		LIMIT ?`,
		uint8(store.StatusStored), uint8(store.StatusPublished|store.StatusFailed), now, now,
		uint8(store.StatusStored), uint8(store.StatusEventStored|store.StatusFailed), now, now,
		remaining).Scan(&candidates).Error
	if err != nil {
		return nil, err
	}

	for _, p := range candidates {
		assignment := partitionAssignmentModel{
			PartitionNumber: p,
			InstanceID:      instanceID,
			AssignedAt:      now,
			LastHeartbeat:   now,
		}
		create := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&assignment)
		if create.Error != nil {
			return nil, create.Error
		}
		if create.RowsAffected > 0 {
			held = append(held, p)
		}
	}
	// Refresh heartbeat on partitions already held.
	if len(held) > 0 {
		if err := tx.Model(&partitionAssignmentModel{}).
			Where("instance_id = ?", instanceID).
			Update("last_heartbeat", now).Error; err != nil {
			return nil, err
		}
	}
	return held, nil
}

func claimOutboxWork(tx *gorm.DB, partitions []int, instanceID string, now time.Time, leaseSeconds, batchSize int) ([]store.OutboxRecord, error) {
	if len(partitions) == 0 {
		return nil, nil
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	var candidates []outboxModel
	err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("partition_number IN ?", partitions).
		Where("status_flags & ? != 0", uint8(store.StatusStored)).
		Where("status_flags & ? = 0", uint8(store.StatusPublished|store.StatusFailed)).
		Where("instance_id IS NULL OR lease_expiry < ?", now).
		Where("scheduled_for IS NULL OR scheduled_for <= ?", now).
		Order("message_id ASC").
		Limit(batchSize * 4). // over-fetch so the stream-ordering guard still leaves enough after filtering
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}

	// Stream-ordering guard: skip a row if an earlier (lower MessageId),
	// non-terminal row shares its StreamId — that earlier row must be
	// resolved first, wherever it is currently held.
	blockedStreams := make(map[string]bool)
	var earliestPerStream []outboxModel
	err = tx.Where("status_flags & ? = 0", uint8(store.StatusPublished|store.StatusFailed)).
		Order("stream_id ASC, message_id ASC").
		Find(&earliestPerStream).Error
	if err != nil {
		return nil, err
	}
	seenStream := make(map[string]string) // stream_id -> earliest non-terminal message_id
	for _, row := range earliestPerStream {
		if _, ok := seenStream[row.StreamID]; !ok {
			seenStream[row.StreamID] = row.MessageID
		}
	}

	claimed := make([]outboxModel, 0, batchSize)
	for _, row := range candidates {
		if len(claimed) >= batchSize {
			break
		}
		earliest, ok := seenStream[row.StreamID]
		if ok && earliest != row.MessageID {
			blockedStreams[row.StreamID] = true
			continue
		}
		claimed = append(claimed, row)
	}

	expiry := now.Add(time.Duration(leaseSeconds) * time.Second)
	out := make([]store.OutboxRecord, 0, len(claimed))
	for _, row := range claimed {
		if err := tx.Model(&outboxModel{}).
			Where("message_id = ?", row.MessageID).
			Updates(map[string]any{"instance_id": instanceID, "lease_expiry": expiry}).Error; err != nil {
			return nil, err
		}
		row.InstanceID = &instanceID
		row.LeaseExpiry = &expiry
		out = append(out, outboxModelToRecord(row))
	}
	return out, nil
}

func claimInboxWork(tx *gorm.DB, partitions []int, instanceID string, now time.Time, leaseSeconds, batchSize int) ([]store.InboxRecord, error) {
	if len(partitions) == 0 {
		return nil, nil
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	var candidates []inboxModel
	err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("partition_number IN ?", partitions).
		Where("status_flags & ? != 0", uint8(store.StatusStored)).
		Where("status_flags & ? = 0", uint8(store.StatusEventStored|store.StatusFailed)).
		Where("instance_id IS NULL OR lease_expiry < ?", now).
		Where("scheduled_for IS NULL OR scheduled_for <= ?", now).
		Order("message_id ASC").
		Limit(batchSize).
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}
	expiry := now.Add(time.Duration(leaseSeconds) * time.Second)
	out := make([]store.InboxRecord, 0, len(candidates))
	for _, row := range candidates {
		if err := tx.Model(&inboxModel{}).
			Where("message_id = ? AND handler_name = ?", row.MessageID, row.HandlerName).
			Updates(map[string]any{"instance_id": instanceID, "lease_expiry": expiry}).Error; err != nil {
			return nil, err
		}
		row.InstanceID = &instanceID
		row.LeaseExpiry = &expiry
		out = append(out, inboxModelToRecord(row))
	}
	return out, nil
}

func claimPerspectiveWork(tx *gorm.DB, partitions []int, instanceID string, now time.Time, leaseSeconds, batchSize int) ([]store.PerspectiveCheckpoint, error) {
	if len(partitions) == 0 {
		return nil, nil
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	var candidates []perspectiveCheckpointModel
	err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("partition_number IN ?", partitions).
		Where("status != ?", string(store.PerspectiveStatusFailed)).
		Where("instance_id IS NULL OR lease_expiry < ?", now).
		Where(`EXISTS (
			SELECT 1 FROM engine_event_log e
			WHERE e.stream_id = engine_perspective_checkpoint.stream_id
			  AND e.message_id > COALESCE(NULLIF(engine_perspective_checkpoint.last_processed_event_id, ''), '')
		)`).
		Order("stream_id ASC").
		Limit(batchSize).
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}
	expiry := now.Add(time.Duration(leaseSeconds) * time.Second)
	out := make([]store.PerspectiveCheckpoint, 0, len(candidates))
	for _, row := range candidates {
		if err := tx.Model(&perspectiveCheckpointModel{}).
			Where("stream_id = ? AND perspective_name = ?", row.StreamID, row.PerspectiveName).
			Updates(map[string]any{"instance_id": instanceID, "lease_expiry": expiry}).Error; err != nil {
			return nil, err
		}
		row.InstanceID = &instanceID
		row.LeaseExpiry = &expiry
		out = append(out, checkpointModelToRecord(row))
	}
	return out, nil
}
