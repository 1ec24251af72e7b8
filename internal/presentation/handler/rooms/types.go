package rooms

type roomPresenceResponse struct {
	RoomKey       string   `json:"roomKey"`
	MemberCount   int      `json:"memberCount"`
	ConnectionIDs []string `json:"connectionIds"`
	LocalMembers  int      `json:"localMembers"`
}
