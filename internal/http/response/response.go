package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response 统一响应信封，错误同样以 HTTP 200 返回
type Response struct {
	StatusCode int         `json:"status_code"`
	Msg        string      `json:"msg"`
	Data       interface{} `json:"data"`
}

// PageResponse 带分页的信封
type PageResponse struct {
	Response
	Pagination Pagination `json:"pagination"`
}

// Pagination 分页信息
type Pagination struct {
	Page      int   `json:"page"`
	PageSize  int   `json:"page_size"`
	Total     int64 `json:"total"`
	TotalPage int64 `json:"total_page"`
}

const msgSuccess = "success"

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{StatusCode: CodeOK, Msg: msgSuccess, Data: data})
}

// SuccessWithPage 列表响应
func SuccessWithPage(c *gin.Context, data interface{}, pagination Pagination) {
	c.JSON(http.StatusOK, PageResponse{
		Response:   Response{StatusCode: CodeOK, Msg: msgSuccess, Data: data},
		Pagination: pagination,
	})
}

// Error 错误响应，data 中只携带 request_id
func Error(c *gin.Context, code int, msg string) {
	ErrorWithStatus(c, http.StatusOK, code, msg)
}

// ErrorWithStatus 以指定 HTTP 状态码输出错误信封，供需要对端重投的场景使用
func ErrorWithStatus(c *gin.Context, httpStatus, code int, msg string) {
	body := Response{StatusCode: code, Msg: msg}
	if id := requestID(c); id != "" {
		body.Data = gin.H{"request_id": id}
	}
	c.JSON(httpStatus, body)
}

// Fail 输出 AppError
func Fail(c *gin.Context, appErr *AppError) {
	if appErr == nil {
		Error(c, CodeInternal, "")
		return
	}
	msg := appErr.Message
	if msg == "" {
		msg = appErr.Key
	}
	Error(c, appErr.Code, msg)
}

// Unauthorized 未登录或令牌无效
func Unauthorized(c *gin.Context, msg string) {
	Error(c, CodeUnauthorized, msg)
}

// Forbidden 能力不足
func Forbidden(c *gin.Context, msg string) {
	Error(c, CodeForbidden, msg)
}

// BuildPagination 计算总页数
func BuildPagination(page, pageSize int, total int64) Pagination {
	p := Pagination{Page: page, PageSize: pageSize, Total: total}
	if pageSize > 0 && total > 0 {
		p.TotalPage = (total + int64(pageSize) - 1) / int64(pageSize)
	}
	return p
}

func requestID(c *gin.Context) string {
	if c == nil {
		return ""
	}
	id, _ := c.Get("request_id")
	s, _ := id.(string)
	return s
}
