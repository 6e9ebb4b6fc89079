package user

// Claims carries the verified identity attached to a request. The core treats
// it as an opaque trusted assertion produced by the auth layer.
type Claims struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"isAdmin"`
	Tier     string `json:"tier"`
}
