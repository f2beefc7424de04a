package metrics

import "github.com/indexforge/ingestcore/internal/procstat"

func sampleProcessResources() ResourceSample {
	snap := procstat.Read()
	return ResourceSample{
		RSSBytes: snap.RSSBytes,
		Threads:  snap.Threads,
	}
}
