package nerdfonts

// Calendar related symbols
const (
	Calendar      = "\uF073" // 
	CalendarCheck = "\uF274" // 
	CalendarClock = "\uF64F" // 
	CalendarDay   = "\uF783" // 
)

// Time related symbols
const (
	Clock     = "\uF017" // 
	Hourglass = "\uF254" // 
)

// Location symbols
const (
	MapPin = "\uF041" // 
)

// Status symbols
const (
	CheckCircle         = "\uF058" // 
	ExclamationTriangle = "\uF071" // 
	Circle              = "\uF111" // 
	Bell                = "\uF0F3" // 
	BellSlash           = "\uF1F6" // 
	Sync                = "\uF021" // 
)
