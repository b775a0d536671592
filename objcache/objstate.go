package objcache

import "sync"

// objState is the partial-download runner for a single (msgId,objId):
// its mutex doubles as the "named mutex" serializing concurrent
// downloads of the same object (§4.F).
type objState struct {
	mu        sync.Mutex
	data      []byte
	total     int64
	haveTotal bool
}

// ensure grows data to cover [0,end), issuing the leading read on
// first access and chunked range reads thereafter, persisting every
// growth to disk so a later process restart resumes from what was
// already downloaded.
func (o *objState) ensure(msgID, objID string, end int64, fetcher Fetcher, disk DiskStore) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.haveTotal {
		if cached, ok, err := disk.GetObject(msgID, objID); err != nil {
			return err
		} else if ok {
			o.data = cached
			if total, known, err := disk.GetObjectTotal(msgID, objID); err != nil {
				return err
			} else if known {
				o.total = total
				o.haveTotal = true
			}
		} else {
			leading, total, err := fetcher.LeadingRead(msgID, objID)
			if err != nil {
				return err
			}
			o.data = leading
			o.total = total
			o.haveTotal = true
			if err := disk.PutObject(msgID, objID, o.data); err != nil {
				return err
			}
			if err := disk.PutObjectTotal(msgID, objID, total); err != nil {
				return err
			}
		}
	}
	if o.haveTotal && end > o.total {
		end = o.total
	}

	for int64(len(o.data)) < end {
		chunkEnd := int64(len(o.data)) + ChunkSize
		if chunkEnd > end {
			chunkEnd = end
		}
		if o.haveTotal && chunkEnd > o.total {
			chunkEnd = o.total
		}
		chunk, err := fetcher.RangeRead(msgID, objID, int64(len(o.data)), chunkEnd)
		if err != nil {
			return err
		}
		if len(chunk) == 0 {
			return errf(KindBadRange, "range read for %s/%s returned no bytes before reaching total", msgID, objID)
		}
		o.data = append(o.data, chunk...)
		if err := disk.PutObject(msgID, objID, o.data); err != nil {
			return err
		}
	}
	return nil
}

func (o *objState) read(start, end int64) []byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	if end > int64(len(o.data)) {
		end = int64(len(o.data))
	}
	if start < 0 || start >= end {
		return nil
	}
	return o.data[start:end]
}
