package store

import (
	"time"

	"thirdcoast.systems/ytharvest/pkg/blobstore"
)

// YtStore hands out the append-only partitions for each entity kind.
type YtStore struct {
	Store blobstore.Store
}

func NewYtStore(s blobstore.Store) *YtStore {
	return &YtStore{Store: s}
}

func (s *YtStore) ChannelStore() *AppendStore[ChannelStored] {
	return NewAppendStore(s.Store, "channels", func(c ChannelStored) time.Time { return c.Updated })
}

func (s *YtStore) VideoStore(channelID string) *AppendStore[VideoStored] {
	return NewAppendStore(s.Store, blobstore.Join("videos", channelID), func(v VideoStored) time.Time { return v.UploadDate })
}

func (s *YtStore) RecStore(channelID string) *AppendStore[RecStored] {
	return NewAppendStore(s.Store, blobstore.Join("recs", channelID), func(r RecStored) time.Time { return r.Updated })
}

func (s *YtStore) CaptionStore(channelID string) *AppendStore[CaptionStored] {
	return NewAppendStore(s.Store, blobstore.Join("captions", channelID), func(c CaptionStored) time.Time { return c.UploadDate })
}

func (s *YtStore) VideoExtraStore() *AppendStore[VideoExtraStored] {
	return NewAppendStore(s.Store, "video_extra", func(v VideoExtraStored) time.Time { return v.Updated })
}
