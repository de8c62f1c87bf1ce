package model

type UserRole string

const (
	Student UserRole = "student"
	Staff   UserRole = "staff"
)

func (r UserRole) Valid() bool {
	return r == Student || r == Staff
}

type User struct {
	BaseModel
	Username string   `gorm:"size:50;uniqueIndex;not null" json:"username"`
	Email    string   `gorm:"size:100;uniqueIndex;not null" json:"email"`
	Password string   `gorm:"size:100;not null" json:"-"`
	Role     UserRole `gorm:"type:varchar(20);default:'student';index" json:"role"`
}

func (User) TableName() string {
	return "users"
}

// Principal 已认证的调用方，每次连接/请求从 JWT 中解析，不落库
type Principal struct {
	UserID   uint     `json:"id"`
	Username string   `json:"username"`
	Role     UserRole `json:"role"`
}

func (p Principal) IsStaff() bool {
	return p.Role == Staff
}
