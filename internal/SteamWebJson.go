package internal

import "time"

// PublishedFileDetailsResponse is the envelope of IPublishedFileService/GetDetails.
type PublishedFileDetailsResponse struct {
	Response struct {
		PublishedFileDetails []PublishedFileDetails `json:"publishedfiledetails"`
	} `json:"response"`
}

// PublishedFileDetails is one item of a GetDetails response
type PublishedFileDetails struct {
	Result          int                  `json:"result"`
	PublishedFileId Uint64Converter      `json:"publishedfileid"`
	Creator         Uint64Converter      `json:"creator"`
	Filename        string               `json:"filename"`
	FileSize        Uint64Converter      `json:"file_size"`
	FileURL         string               `json:"file_url"`
	HContentFile    Uint64Converter      `json:"hcontent_file"`
	PreviewURL      string               `json:"preview_url"`
	HContentPreview Uint64Converter      `json:"hcontent_preview"`
	PreviewFileSize Uint64Converter      `json:"preview_file_size"`
	Title           string               `json:"title"`
	FileDescription string               `json:"file_description"`
	TimeCreated     int64                `json:"time_created"`
	TimeUpdated     int64                `json:"time_updated"`
	Banned          BoolConverter        `json:"banned"`
	Tags            []PublishedFileTag   `json:"tags"`
	VoteData        *PublishedFileVotes  `json:"vote_data"`
	Children        []PublishedFileChild `json:"children"`
}

// PublishedFileTag is a single tag entry
type PublishedFileTag struct {
	Tag string `json:"tag"`
}

// PublishedFileVotes holds the vote summary of an item
type PublishedFileVotes struct {
	Score     float32 `json:"score"`
	VotesUp   uint32  `json:"votes_up"`
	VotesDown uint32  `json:"votes_down"`
}

// PublishedFileChild references a child item
type PublishedFileChild struct {
	PublishedFileId Uint64Converter `json:"publishedfileid"`
}

// ServerInfoResponse is the body of ISteamWebAPIUtil/GetServerInfo.
type ServerInfoResponse struct {
	ServerTime       int64  `json:"servertime"`
	ServerTimeString string `json:"servertimestring"`
}

// ToItemDetails converts the wire representation into the backend neutral form.
func (p *PublishedFileDetails) ToItemDetails() ItemDetails {
	tags := make([]string, 0, len(p.Tags))
	for _, t := range p.Tags {
		tags = append(tags, t.Tag)
	}

	details := ItemDetails{
		PublishedFileId: ItemId(p.PublishedFileId),
		Result:          EResult(p.Result),
		Title:           p.Title,
		Description:     p.FileDescription,
		Owner:           uint64(p.Creator),
		Tags:            JoinTags(tags),
		Banned:          bool(p.Banned),
		FileSize:        uint64(p.FileSize),
		FileName:        p.Filename,
		FileURL:         p.FileURL,
		FileHandle:      uint64(p.HContentFile),
		PreviewURL:      p.PreviewURL,
		PreviewHandle:   uint64(p.HContentPreview),
		PreviewSize:     uint64(p.PreviewFileSize),
	}
	if p.TimeCreated > 0 {
		details.Created = time.Unix(p.TimeCreated, 0)
	}
	if p.TimeUpdated > 0 {
		details.Updated = time.Unix(p.TimeUpdated, 0)
	}
	if p.VoteData != nil {
		details.Score = p.VoteData.Score
		details.VotesUp = p.VoteData.VotesUp
		details.VotesDown = p.VoteData.VotesDown
	}
	for _, child := range p.Children {
		details.Children = append(details.Children, ItemId(child.PublishedFileId))
	}
	return details
}
