package caldav

// Calendar is a collection found on the CalDAV server.
type Calendar struct {
	Path        string
	DisplayName string
	Description string
}
