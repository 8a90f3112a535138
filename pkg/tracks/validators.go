package tracks

type ListTracksQuery struct {
	Limit          int  `query:"limit" json:"limit,omitempty" default:"50" validate:"min=1,max=500"`
	Offset         int  `query:"offset" json:"offset,omitempty" validate:"min=0"`
	ProviderID     *int `query:"provider_id" json:"provider_id,omitempty"`
	ArtistID       *int `query:"artist_id" json:"artist_id,omitempty"`
	AlbumID        *int `query:"album_id" json:"album_id,omitempty"`
	IncludeDeleted bool `query:"include_deleted" json:"include_deleted,omitempty"`
}
