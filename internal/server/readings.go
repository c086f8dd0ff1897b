package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	obstracing "github.com/smallbiznis/micoriza/internal/observability/tracing"
	readingdomain "github.com/smallbiznis/micoriza/internal/reading/domain"
	"github.com/smallbiznis/micoriza/internal/reading/validator"
)

const maxReadingBodyBytes = 8 << 20

// CreateReadings stores one reading object or an array of readings. The response mirrors
// the request shape.
func (s *Server) CreateReadings(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxReadingBodyBytes)
	body, err := c.GetRawData()
	if err != nil {
		AbortWithError(c, readingdomain.ErrInvalidPayload)
		return
	}

	reqs, isArray, err := validator.Decode(body)
	if err != nil {
		if !isArray {
			var invalid *readingdomain.InvalidReadingError
			if errors.As(err, &invalid) {
				err = invalid.Err
			}
		}
		AbortWithError(c, err)
		return
	}
	c.Set(obstracing.ReadingCountKey, len(reqs))

	ctx := c.Request.Context()
	if !isArray {
		reading, err := s.readingSvc.WriteOne(ctx, reqs[0])
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, reading)
		return
	}

	readings, err := s.readingSvc.WriteBatch(ctx, reqs)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if readings == nil {
		readings = []readingdomain.SensorReading{}
	}
	c.JSON(http.StatusCreated, readings)
}

func (s *Server) ListReadings(c *gin.Context) {
	from, err := parseOptionalTime(c.Query("from"), false)
	if err != nil {
		AbortWithError(c, readingdomain.ErrInvalidFrom)
		return
	}
	to, err := parseOptionalTime(c.Query("to"), true)
	if err != nil {
		AbortWithError(c, readingdomain.ErrInvalidTo)
		return
	}

	result, err := s.readingSvc.Query(c.Request.Context(), readingdomain.QueryRequest{
		DeviceName: c.Query("deviceName"),
		SensorName: c.Query("sensorName"),
		From:       from,
		To:         to,
		GroupBy:    c.Query("groupBy"),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if result.Grouped() {
		buckets := result.Buckets
		if buckets == nil {
			buckets = []readingdomain.ReadingBucket{}
		}
		c.Set(obstracing.ReadingCountKey, len(buckets))
		c.JSON(http.StatusOK, buckets)
		return
	}

	readings := result.Readings
	if readings == nil {
		readings = []readingdomain.SensorReading{}
	}
	c.Set(obstracing.ReadingCountKey, len(readings))
	c.JSON(http.StatusOK, readings)
}

func (s *Server) ListDevices(c *gin.Context) {
	devices, err := s.readingSvc.ListDevices(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if devices == nil {
		devices = []string{}
	}
	c.JSON(http.StatusOK, devices)
}

func (s *Server) ListSensorNames(c *gin.Context) {
	sensors, err := s.readingSvc.ListSensorNames(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if sensors == nil {
		sensors = []string{}
	}
	c.JSON(http.StatusOK, sensors)
}
