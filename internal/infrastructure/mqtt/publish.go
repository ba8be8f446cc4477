package mqtt

import (
	"fmt"
)

// maxBlockSize bounds a published block (8 MiB). Level-20 blocks of busy
// sensors run to megabytes of gzip; this bound keeps a runaway block from
// exhausting broker memory.
const maxBlockSize = 8 << 20

// PublishBlock publishes a block's raw gzip bytes on its tmpo topic.
//
// Delivery is fixed by the tmpo protocol: QoS 0, non-retained. The sync
// engine republishes on demand, so at-most-once delivery suffices and keeps
// broker state small on constrained gateways.
//
// Parameters:
//   - sid, rid, lvl, bid: The block's coordinates (select the topic)
//   - payload: The block file's compressed bytes, published verbatim
//
// Returns:
//   - error: nil on success, or wrapped error describing the failure; the
//     engine aborts its current tick on any publish error
func (c *Client) PublishBlock(sid string, rid, lvl int, bid uint32, payload []byte) error {
	if len(payload) > maxBlockSize {
		return fmt.Errorf("%w: block is %d bytes, limit %d", ErrPublishFailed, len(payload), maxBlockSize)
	}
	if !c.client.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(Topics{}.SensorBlock(sid, rid, lvl, bid), 0, false, payload)
	if !token.WaitTimeout(requestTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, requestTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}
