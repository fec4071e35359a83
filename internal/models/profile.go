package models

type Profile struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
}
