package authorization

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/smtp"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// grantRequestPayload 表示前端提交的数据访问申请内容。
type grantRequestPayload struct {
	ResourceType string `json:"resource_type" binding:"required"`
	ResourceID   uint64 `json:"resource_id" binding:"required"`
	Message      string `json:"message"`
}

// grantRequestMailer 封装 SMTP 参数以发送访问申请邮件。
type grantRequestMailer struct {
	host      string
	port      int
	username  string
	password  string
	from      string
	recipient string
	subject   string
}

// newGrantRequestMailerFromEnv 从环境变量加载邮件发送配置。
func newGrantRequestMailerFromEnv() (*grantRequestMailer, error) {
	recipient := sanitizeMailHeader(os.Getenv("GRANT_REQUEST_RECIPIENT_EMAIL"))
	if recipient == "" {
		return nil, errors.New("grant request recipient email is not configured")
	}

	host := strings.TrimSpace(os.Getenv("GRANT_REQUEST_SMTP_HOST"))
	if host == "" {
		return nil, errors.New("grant request SMTP host is not configured")
	}

	portValue := strings.TrimSpace(os.Getenv("GRANT_REQUEST_SMTP_PORT"))
	if portValue == "" {
		portValue = "587"
	}
	port, err := strconv.Atoi(portValue)
	if err != nil || port <= 0 {
		return nil, fmt.Errorf("grant request SMTP port is invalid: %s", portValue)
	}

	username := strings.TrimSpace(os.Getenv("GRANT_REQUEST_SMTP_USERNAME"))
	password := os.Getenv("GRANT_REQUEST_SMTP_PASSWORD")
	mailFrom := sanitizeMailHeader(os.Getenv("GRANT_REQUEST_MAIL_FROM"))
	if mailFrom == "" {
		mailFrom = username
	}

	if username == "" || strings.TrimSpace(password) == "" {
		return nil, errors.New("grant request SMTP credentials are not configured")
	}
	if mailFrom == "" {
		return nil, errors.New("grant request mail sender address is not configured")
	}

	subject := sanitizeMailHeader(os.Getenv("GRANT_REQUEST_MAIL_SUBJECT"))

	return &grantRequestMailer{
		host:      host,
		port:      port,
		username:  username,
		password:  password,
		from:      mailFrom,
		recipient: recipient,
		subject:   subject,
	}, nil
}

// Send 发送数据访问申请邮件并附带用户信息。
func (m *grantRequestMailer) Send(user *User, payload *grantRequestPayload) error {
	if m == nil {
		return errors.New("grant request mailer not configured")
	}
	if user == nil {
		return errors.New("user information is required")
	}

	subject := m.subject
	if subject == "" {
		subject = "Data Access Request"
	}
	subject = encodeMailSubject(subject)

	now := time.Now().UTC()

	var bodyBuilder strings.Builder
	bodyBuilder.WriteString("A new data access request has been submitted.\r\n\r\n")
	bodyBuilder.WriteString(fmt.Sprintf("User ID: %d\r\n", user.ID))
	if user.Username != "" {
		bodyBuilder.WriteString(fmt.Sprintf("Username: %s\r\n", sanitizeMailHeader(user.Username)))
	}
	if user.DisplayName != "" {
		bodyBuilder.WriteString(fmt.Sprintf("Display Name: %s\r\n", sanitizeMailHeader(user.DisplayName)))
	}
	if user.CompanyKey != "" {
		bodyBuilder.WriteString(fmt.Sprintf("Company Key: %s\r\n", sanitizeMailHeader(user.CompanyKey)))
	}
	bodyBuilder.WriteString(fmt.Sprintf("Requested At (UTC): %s\r\n", now.Format(time.RFC3339)))

	if payload != nil {
		bodyBuilder.WriteString(fmt.Sprintf("Resource Type: %s\r\n", sanitizeMailHeader(payload.ResourceType)))
		bodyBuilder.WriteString(fmt.Sprintf("Resource ID: %d\r\n", payload.ResourceID))
		if strings.TrimSpace(payload.Message) != "" {
			bodyBuilder.WriteString("\r\nAdditional Message:\r\n")
			bodyBuilder.WriteString(strings.TrimSpace(payload.Message))
			bodyBuilder.WriteString("\r\n")
		}
	}

	headers := []string{
		fmt.Sprintf("From: %s", m.from),
		fmt.Sprintf("To: %s", m.recipient),
		fmt.Sprintf("Subject: %s", subject),
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
		"Content-Transfer-Encoding: 8bit",
		fmt.Sprintf("Date: %s", now.Format(time.RFC1123Z)),
	}

	var messageBuilder strings.Builder
	for _, header := range headers {
		messageBuilder.WriteString(header)
		messageBuilder.WriteString("\r\n")
	}
	messageBuilder.WriteString("\r\n")
	messageBuilder.WriteString(bodyBuilder.String())

	address := fmt.Sprintf("%s:%d", m.host, m.port)
	auth := smtp.PlainAuth("", m.username, m.password, m.host)

	return smtp.SendMail(address, auth, m.from, []string{m.recipient}, []byte(messageBuilder.String()))
}

// encodeMailSubject 以 RFC 标准对邮件主题进行编码。
func encodeMailSubject(subject string) string {
	if subject == "" {
		return subject
	}
	if isASCII(subject) {
		return subject
	}
	encoded := base64.StdEncoding.EncodeToString([]byte(subject))
	return fmt.Sprintf("=?UTF-8?B?%s?=", encoded)
}

// isASCII 判断字符串是否全部为 ASCII 字符。
func isASCII(value string) bool {
	for i := 0; i < len(value); i++ {
		if value[i] >= 0x80 {
			return false
		}
	}
	return true
}

// sanitizeMailHeader 清洗邮件头字段避免注入。
func sanitizeMailHeader(value string) string {
	trimmed := strings.TrimSpace(value)
	trimmed = strings.ReplaceAll(trimmed, "\r", " ")
	trimmed = strings.ReplaceAll(trimmed, "\n", " ")
	return trimmed
}

// registerGrantRequestRoutes 在受保护的路由组下挂载访问申请端点。
// 邮件配置缺失时端点仍然注册，请求会返回服务不可用。
func (m *Module) registerGrantRequestRoutes(secured *gin.RouterGroup) {
	mailer, err := newGrantRequestMailerFromEnv()
	if err != nil {
		log.Printf("authorization: grant request mailer disabled: %v", err)
	}

	secured.POST("/grant-request", func(c *gin.Context) {
		m.handleGrantRequest(c, mailer)
	})
}

// handleGrantRequest 处理数据访问申请并触发通知。授权本身仍由管理员
// 通过授权端点完成，这里只负责通知。
func (m *Module) handleGrantRequest(c *gin.Context, mailer *grantRequestMailer) {
	if m == nil || m.userStore == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "grant request service unavailable"})
		return
	}
	if mailer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "grant request notifications are not configured"})
		return
	}

	var payload grantRequestPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	resourceType := strings.ToLower(strings.TrimSpace(payload.ResourceType))
	if resourceType != "connection" && resourceType != "knowledge_base" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "resource_type must be connection or knowledge_base"})
		return
	}
	payload.ResourceType = resourceType

	actor, ok := CurrentActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	ctx := c.Request.Context()
	user, err := m.userStore.FindByID(ctx, uint(actor.UserID))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load user"})
		}
		return
	}

	if err := mailer.Send(user, &payload); err != nil {
		log.Printf("authorization: failed to send grant request email: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to notify administrator"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"message": "access request submitted"})
}
