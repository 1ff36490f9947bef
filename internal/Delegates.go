package internal

// DelegateDownloadComplete receives the outcome of a DownloadItem call. On failure
// path is empty and file is nil.
type DelegateDownloadComplete func(path string, file HostFile)

// DelegateFileInfoComplete receives the outcome of a FileInfo call. A nil info
// means the id itself was rejected before any query was made.
type DelegateFileInfoComplete func(info *FileInfo)

// DelegateHostTick is a named periodic callback run by the host tick loop.
type DelegateHostTick func()

// DelegateQueryComplete is invoked by a Backend's callback pump once a metadata
// query has an answer.
type DelegateQueryComplete func(results *QueryResults, err error)

// DelegateDownloadResult is invoked by a Backend's callback pump when a download it
// accepted has finished, successfully or not.
type DelegateDownloadResult func(id ItemId, result EResult)
