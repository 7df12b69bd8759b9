package domain

// DownloadStatistics is the process-wide download aggregate. Counters only
// grow over the lifetime of the manager; AverageSpeed is a running mean in
// bytes per second over successful downloads.
type DownloadStatistics struct {
	TotalDownloads       int64
	SuccessfulDownloads  int64
	FailedDownloads      int64
	TotalBytesDownloaded int64
	AverageSpeed         float64
}
