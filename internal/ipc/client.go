package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) call(method string, req, resp any) error {
	return c.client.Call(ServiceName+"."+method, req, resp)
}

// Start requests the daemon to resume processing.
func (c *Client) Start() (*StartResponse, error) {
	var resp StartResponse
	if err := c.call("Start", StartRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop requests the daemon to halt processing.
func (c *Client) Stop() (*StopResponse, error) {
	var resp StopResponse
	if err := c.call("Stop", StopRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.call("Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Submit enqueues a track request. Rejections are reported in the response.
func (c *Client) Submit(req SubmitRequest) (*SubmitResponse, error) {
	var resp SubmitResponse
	if err := c.call("Submit", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Cancel cancels one task on behalf of requesterID.
func (c *Client) Cancel(taskID, requesterID string) (*CancelResponse, error) {
	var resp CancelResponse
	if err := c.call("Cancel", CancelRequest{TaskID: taskID, RequesterID: requesterID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelAll cancels every active task of requesterID.
func (c *Client) CancelAll(requesterID string) (*CancelAllResponse, error) {
	var resp CancelAllResponse
	if err := c.call("CancelAll", CancelAllRequest{RequesterID: requesterID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Task returns one task.
func (c *Client) Task(taskID string) (*TaskResponse, error) {
	var resp TaskResponse
	if err := c.call("Task", TaskRequest{TaskID: taskID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Tasks lists active tasks followed by recent history.
func (c *Client) Tasks(req TasksRequest) (*TasksResponse, error) {
	var resp TasksResponse
	if err := c.call("Tasks", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Events fetches status events after req.Since.
func (c *Client) Events(req EventsRequest) (*EventsResponse, error) {
	var resp EventsResponse
	if err := c.call("Events", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Wrapper returns the wrapper snapshot.
func (c *Client) Wrapper() (*WrapperResponse, error) {
	var resp WrapperResponse
	if err := c.call("Wrapper", WrapperRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WrapperStart starts the wrapper instance.
func (c *Client) WrapperStart() (*WrapperResponse, error) {
	var resp WrapperResponse
	if err := c.call("WrapperStart", WrapperRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WrapperStop stops the wrapper instance.
func (c *Client) WrapperStop() (*WrapperResponse, error) {
	var resp WrapperResponse
	if err := c.call("WrapperStop", WrapperRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WrapperBuild provisions the native wrapper image.
func (c *Client) WrapperBuild() (*WrapperResponse, error) {
	var resp WrapperResponse
	if err := c.call("WrapperBuild", WrapperRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Login forwards account credentials to the wrapper.
func (c *Client) Login(req LoginRequest) (*LoginResponse, error) {
	var resp LoginResponse
	if err := c.call("Login", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Logout ends the session of account.
func (c *Client) Logout(account string) (*LogoutResponse, error) {
	var resp LogoutResponse
	if err := c.call("Logout", LogoutRequest{Account: account}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Files lists live artifacts.
func (c *Client) Files() (*FilesResponse, error) {
	var resp FilesResponse
	if err := c.call("Files", FilesRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FilesClean deletes artifacts matching req regardless of expiry.
func (c *Client) FilesClean(req FilesCleanRequest) (*FilesCleanResponse, error) {
	var resp FilesCleanResponse
	if err := c.call("FilesClean", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FilesSweep removes expired artifacts now.
func (c *Client) FilesSweep() (*FilesCleanResponse, error) {
	var resp FilesCleanResponse
	if err := c.call("FilesSweep", FilesSweepRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DatabaseHealth retrieves detailed database diagnostics.
func (c *Client) DatabaseHealth() (*DatabaseHealthResponse, error) {
	var resp DatabaseHealthResponse
	if err := c.call("DatabaseHealth", DatabaseHealthRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	var resp TestNotificationResponse
	if err := c.call("TestNotification", TestNotificationRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
