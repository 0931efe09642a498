package model

// Strategy is the publish strategy chosen once per attempt. The set of
// implementations is closed: VideoServerMix, VideoIngest and PhotoSet.
type Strategy interface {
	Name() string
	// FinalStatus is the status written by the final record write. The
	// boolean is false when the write must leave status untouched.
	FinalStatus() (PostStatus, bool)
	sealed()
}

// VideoServerMix uploads raw video to the object store and hands it to the
// external mix worker.
type VideoServerMix struct{}

// VideoIngest uploads video to the external ingest service, whose webhook
// later advances the record.
type VideoIngest struct{}

// PhotoSet uploads derived variants for each selected image. ServerMix is
// set when a music track was resolved and mixing was requested.
type PhotoSet struct {
	ServerMix bool
}

func (VideoServerMix) Name() string { return "video_server_mix" }
func (VideoIngest) Name() string    { return "video_ingest" }
func (PhotoSet) Name() string       { return "photo_set" }

func (VideoServerMix) FinalStatus() (PostStatus, bool) { return StatusMixing, true }
func (VideoIngest) FinalStatus() (PostStatus, bool)    { return "", false }
func (s PhotoSet) FinalStatus() (PostStatus, bool) {
	if s.ServerMix {
		return StatusMixing, true
	}
	return StatusReady, true
}

func (VideoServerMix) sealed() {}
func (VideoIngest) sealed()    {}
func (PhotoSet) sealed()       {}

// SelectStrategy decides the publish strategy from the media kind, whether
// a music URL was resolved, and whether the author asked for a server mix.
func SelectStrategy(kind PostMediaKind, musicResolved, mixRequested bool, policy UploadPolicy) Strategy {
	mix := musicResolved && mixRequested && policy.AllowMixing
	switch kind {
	case PostMediaVideo:
		if mix {
			return VideoServerMix{}
		}
		return VideoIngest{}
	default:
		return PhotoSet{ServerMix: mix}
	}
}
