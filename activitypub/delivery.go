package activitypub

import (
	"bytes"
	"context"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/corvid-social/corvid/db"
	"github.com/corvid-social/corvid/domain"
	"github.com/corvid-social/corvid/util"
	"github.com/google/uuid"
)

const (
	deliveryBatchSize = 50
	deliveryTimeout   = 20 * time.Second
)

// retryBackoffMinutes spaces out redelivery attempts; the last entry
// repeats until maxAttempts is reached.
var retryBackoffMinutes = []int{1, 5, 15, 60, 240, 1440}

// Delivery is the persistent outbound queue. Jobs survive restarts;
// each is signed with the sending actor's key at POST time, retried on
// transient failure and dropped on permanent refusal.
type Delivery struct {
	db          *db.DB
	conf        *util.AppConfig
	client      *http.Client
	maxAttempts int
	interval    time.Duration
}

func NewDelivery(store *db.DB, conf *util.AppConfig) *Delivery {
	return &Delivery{
		db:          store,
		conf:        conf,
		client:      &http.Client{Timeout: deliveryTimeout},
		maxAttempts: 8,
		interval:    30 * time.Second,
	}
}

// Enqueue queues one payload for an inbox. Blocked hosts are refused
// at enqueue time so nothing for them ever sits in the queue.
func (d *Delivery) Enqueue(signer *domain.Actor, inboxURI string, payload []byte) error {
	host, err := util.ExtractHost(inboxURI)
	if err != nil {
		return err
	}
	if d.conf.IsBlockedHost(host) {
		log.Printf("DeliveryWorker: refusing enqueue to blocked host %s", host)
		return nil
	}
	instance, err := d.db.RegisterInstance(host)
	if err != nil {
		return err
	}
	if instance.Blocked {
		log.Printf("DeliveryWorker: refusing enqueue to blocked instance %s", host)
		return nil
	}

	job := &domain.DeliveryJob{
		Id:            uuid.New(),
		InboxURI:      inboxURI,
		ActorId:       signer.Id,
		Payload:       string(payload),
		NextAttemptAt: time.Now(),
		CreatedAt:     time.Now(),
	}
	return d.db.CreateDelivery(job)
}

// EnqueueToFollowers fans a payload out to the remote followers of a
// local actor, collapsing followers behind one shared inbox into a
// single job.
func (d *Delivery) EnqueueToFollowers(author *domain.Actor, payload []byte) error {
	follows, err := d.db.ReadFollowersOf(author.Id)
	if err != nil {
		return err
	}
	seen := make(map[string]bool)
	for _, f := range follows {
		if f.FollowerHost == "" {
			continue
		}
		follower, err := d.db.ReadActorById(f.FollowerId)
		if err != nil {
			return err
		}
		if follower == nil {
			continue
		}
		inbox := follower.DeliveryInbox()
		if inbox == "" || seen[inbox] {
			continue
		}
		seen[inbox] = true
		if err := d.Enqueue(author, inbox, payload); err != nil {
			return err
		}
	}
	return nil
}

// StartWorker drains the queue on a fixed interval until ctx ends.
func (d *Delivery) StartWorker(ctx context.Context) {
	log.Printf("DeliveryWorker: started, interval %s", d.interval)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Printf("DeliveryWorker: stopped")
			return
		case <-ticker.C:
			d.ProcessQueue(ctx)
		}
	}
}

// ProcessQueue attempts every due job once.
func (d *Delivery) ProcessQueue(ctx context.Context) {
	jobs, err := d.db.ReadDueDeliveries(time.Now(), deliveryBatchSize)
	if err != nil {
		log.Printf("DeliveryWorker: failed to read queue: %v", err)
		return
	}
	for i := range jobs {
		d.processJob(ctx, &jobs[i])
	}
}

func (d *Delivery) processJob(ctx context.Context, job *domain.DeliveryJob) {
	host, err := util.ExtractHost(job.InboxURI)
	if err != nil {
		log.Printf("DeliveryWorker: dropping job %s with bad inbox URI: %v", job.Id, err)
		d.drop(job, "")
		return
	}

	signer, err := d.db.ReadActorById(job.ActorId)
	if err != nil {
		log.Printf("DeliveryWorker: failed to load signer for job %s: %v", job.Id, err)
		return
	}
	if signer == nil || signer.PrivateKeyPem == "" {
		log.Printf("DeliveryWorker: job %s has no usable signing actor, dropping", job.Id)
		d.drop(job, "")
		return
	}

	status, err := d.post(ctx, job, signer)
	switch {
	case err == nil && status >= 200 && status < 300:
		if err := d.db.DeleteDelivery(job.Id); err != nil {
			log.Printf("DeliveryWorker: failed to delete job %s: %v", job.Id, err)
			return
		}
		if err := d.db.RecordDeliverySuccess(host); err != nil {
			log.Printf("DeliveryWorker: failed to record success for %s: %v", host, err)
		}

	case err == nil && status >= 400 && status < 500:
		log.Printf("DeliveryWorker: %s refused job %s with %d, dropping", host, job.Id, status)
		d.drop(job, host)

	default:
		d.retry(job, host, status, err)
	}
}

func (d *Delivery) post(ctx context.Context, job *domain.DeliveryJob, signer *domain.Actor) (int, error) {
	key, err := ParsePrivateKey(signer.PrivateKeyPem)
	if err != nil {
		return 0, err
	}

	body := []byte(job.Payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.InboxURI, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("User-Agent", util.GetNameAndVersion())

	keyId := d.conf.BaseURL() + "/users/" + signer.Username + "#main-key"
	if err := SignRequest(req, key, keyId, body); err != nil {
		return 0, err
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// retry schedules the next attempt, or drops the job once maxAttempts
// is exhausted. The instance failure counter moves exactly once, at
// the final drop.
func (d *Delivery) retry(job *domain.DeliveryJob, host string, status int, cause error) {
	attempts := job.Attempts + 1
	if attempts >= d.maxAttempts {
		log.Printf("DeliveryWorker: giving up on job %s after %d attempts (status=%d err=%v)",
			job.Id, attempts, status, cause)
		d.drop(job, host)
		return
	}

	idx := attempts - 1
	if idx >= len(retryBackoffMinutes) {
		idx = len(retryBackoffMinutes) - 1
	}
	next := time.Now().Add(time.Duration(retryBackoffMinutes[idx]) * time.Minute)
	log.Printf("DeliveryWorker: job %s attempt %d failed (status=%d err=%v), next at %s",
		job.Id, attempts, status, cause, next.Format(time.RFC3339))
	if err := d.db.UpdateDeliveryAttempt(job.Id, attempts, next); err != nil {
		log.Printf("DeliveryWorker: failed to reschedule job %s: %v", job.Id, err)
	}
}

func (d *Delivery) drop(job *domain.DeliveryJob, host string) {
	if err := d.db.DeleteDelivery(job.Id); err != nil {
		log.Printf("DeliveryWorker: failed to delete job %s: %v", job.Id, err)
		return
	}
	if host == "" {
		return
	}
	if err := d.db.RecordDeliveryFailure(host); err != nil {
		log.Printf("DeliveryWorker: failed to record failure for %s: %v", host, err)
	}
}
