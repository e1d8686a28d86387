package models

// CourseSettings are the admin-editable knobs the engine reads on admission.
type CourseSettings struct {
	RejoinMinutes int  `json:"rejoin_minutes"`
	AllowOverride bool `json:"allow_cooldown_override"`
}

// QueueData is the public summary pushed to every viewer. Seq is the
// sequence number of the last change it reflects; viewers keep the highest.
type QueueData struct {
	Seq           uint64 `json:"seq"`
	NumStudents   int    `json:"num_students"`
	NumHelping    int    `json:"num_helping"`
	WaitMinutes   int    `json:"wait_minutes"`
	QueueFrozen   bool   `json:"queue_frozen"`
	RejoinMinutes int    `json:"rejoin_minutes"`
	AllowOverride bool   `json:"allow_cooldown_override"`
}
